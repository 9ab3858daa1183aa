package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/afero"
)

func writeFiles(t *testing.T, fsys afero.Fs, files map[string]string) {
	t.Helper()
	for p, body := range files {
		if err := afero.WriteFile(fsys, p, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

func TestScripts_PreOrder(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFiles(t, mem, map[string]string{
		"db/up/0002_b.sql":          "b",
		"db/up/0001_a.SQL":          "a",
		"db/up/readme.md":           "skip",
		"db/up/a_child/0003_c.sql":  "c",
		"db/up/a_child/z/0005.sql":  "e",
		"db/up/b_child/0004_d.sql":  "d",
		"db/views/v_users.sql":      "v",
		"db/up/a_child/notes.txt":   "skip",
		"db/up/b_child/x/empty.sql": "",
	})
	f := New(mem)

	var got []string
	for p, err := range f.Scripts("db/up", ".sql") {
		if err != nil {
			t.Fatalf("Scripts: %v", err)
		}
		got = append(got, p)
	}
	want := []string{
		filepath.Join("db", "up", "0001_a.SQL"),
		filepath.Join("db", "up", "0002_b.sql"),
		filepath.Join("db", "up", "a_child", "0003_c.sql"),
		filepath.Join("db", "up", "a_child", "z", "0005.sql"),
		filepath.Join("db", "up", "b_child", "0004_d.sql"),
		filepath.Join("db", "up", "b_child", "x", "empty.sql"),
	}
	if !slices.Equal(got, want) {
		t.Fatalf("order:\n got %v\nwant %v", got, want)
	}
}

func TestScripts_MissingDirAndEarlyStop(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFiles(t, mem, map[string]string{"s/1.sql": "", "s/2.sql": "", "s/3.sql": ""})
	f := New(mem)

	for p := range f.Scripts("nope", ".sql") {
		t.Fatalf("unexpected script %s", p)
	}

	n := 0
	for range f.Scripts("s", "sql") {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("stopped after %d", n)
	}
}

func TestDirectoriesAndText(t *testing.T) {
	mem := afero.NewMemMapFs()
	f := New(mem)
	if f.DirectoryExists("out") {
		t.Fatal("out should not exist yet")
	}
	if err := f.CreateDirectory("out/itemsRan"); err != nil {
		t.Fatalf("CreateDirectory: %v", err)
	}
	if !f.DirectoryExists("out/itemsRan") {
		t.Fatal("directory not created")
	}
	writeFiles(t, mem, map[string]string{"out/a.sql": "SELECT 1;"})
	if !f.FileExists("out/a.sql") || f.FileExists("out") {
		t.Fatal("FileExists mismatch")
	}
	text, err := f.ReadText("out/a.sql")
	if err != nil || text != "SELECT 1;" {
		t.Fatalf("ReadText = %q, %v", text, err)
	}
	if _, err := f.ReadText("out/missing.sql"); err == nil {
		t.Fatal("expected error for a missing file")
	}
	dirs, err := f.EnumerateSubdirectories("out")
	if err != nil || len(dirs) != 1 || dirs[0] != filepath.Join("out", "itemsRan") {
		t.Fatalf("EnumerateSubdirectories = %v, %v", dirs, err)
	}
}

func TestCopyFile(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeFiles(t, mem, map[string]string{"src/a.sql": "one", "dst/exists.sql": "old"})
	f := New(mem)

	if err := f.CopyFile("src/a.sql", "dst/deep/a.sql", false); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	if b, _ := afero.ReadFile(mem, "dst/deep/a.sql"); string(b) != "one" {
		t.Fatalf("copied content = %q", b)
	}
	if err := f.CopyFile("src/a.sql", "dst/exists.sql", false); !errors.Is(err, ErrDestinationExists) {
		t.Fatalf("expected ErrDestinationExists, got %v", err)
	}
	if err := f.CopyFile("src/a.sql", "dst/exists.sql", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if b, _ := afero.ReadFile(mem, "dst/exists.sql"); string(b) != "one" {
		t.Fatalf("overwritten content = %q", b)
	}
	if err := f.CopyFile("src/missing.sql", "dst/m.sql", true); err == nil {
		t.Fatal("expected error for a missing source")
	}
}

func TestCopyFromOS(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "run.log")
	if err := os.WriteFile(logPath, []byte("log line\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	mem := afero.NewMemMapFs()
	f := New(mem)
	if err := f.CopyFromOS(logPath, "cd/run.log", true); err != nil {
		t.Fatalf("CopyFromOS: %v", err)
	}
	if b, _ := afero.ReadFile(mem, "cd/run.log"); string(b) != "log line\n" {
		t.Fatalf("content = %q", b)
	}
}

func TestPathHelpers(t *testing.T) {
	if FileName(filepath.Join("a", "b", "c.sql")) != "c.sql" {
		t.Fatal("FileName")
	}
	if Combine("a", "b", "c.sql") != filepath.Join("a", "b", "c.sql") {
		t.Fatal("Combine")
	}
	if New(nil).Fs() == nil || OS().Fs() == nil {
		t.Fatal("nil fs")
	}
}
