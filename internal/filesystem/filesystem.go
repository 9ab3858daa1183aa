package filesystem

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ErrDestinationExists is returned by CopyFile when overwrite is false and the
// destination is already present.
var ErrDestinationExists = errors.New("destination file exists")

// FileSystem is the file access used by a run: script discovery, reading
// script text and writing the change-drop tree.
type FileSystem struct {
	fs afero.Fs
}

// New wraps fs. A nil fs means the OS filesystem.
func New(fsys afero.Fs) *FileSystem {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &FileSystem{fs: fsys}
}

// OS returns a FileSystem over the real filesystem.
func OS() *FileSystem { return New(afero.NewOsFs()) }

// Fs exposes the underlying afero filesystem.
func (f *FileSystem) Fs() afero.Fs { return f.fs }

// DirectoryExists reports whether path exists and is a directory.
func (f *FileSystem) DirectoryExists(path string) bool {
	ok, err := afero.DirExists(f.fs, path)
	return err == nil && ok
}

// FileExists reports whether path exists and is a regular file.
func (f *FileSystem) FileExists(path string) bool {
	info, err := f.fs.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// CreateDirectory creates path and any missing parents.
func (f *FileSystem) CreateDirectory(path string) error {
	if err := f.fs.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// EnumerateFiles lists the files directly in dir whose extension matches ext,
// ignoring case, sorted by name. An empty ext matches every file.
func (f *FileSystem) EnumerateFiles(dir, ext string) ([]string, error) {
	entries, err := afero.ReadDir(f.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list files in %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !matchExt(e.Name(), ext) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// EnumerateSubdirectories lists the directories directly in dir, sorted by name.
func (f *FileSystem) EnumerateSubdirectories(dir string) ([]string, error) {
	entries, err := afero.ReadDir(f.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list directories in %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func matchExt(name, ext string) bool {
	if ext == "" {
		return true
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.EqualFold(filepath.Ext(name), ext)
}

// Scripts yields every file with extension ext under dir in pre-order: the
// files of a directory first, then each child directory in name order. A
// missing dir yields nothing. Enumeration stops after the first error.
func (f *FileSystem) Scripts(dir, ext string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if !f.DirectoryExists(dir) {
			return
		}
		f.walk(dir, ext, yield)
	}
}

func (f *FileSystem) walk(dir, ext string, yield func(string, error) bool) bool {
	files, err := f.EnumerateFiles(dir, ext)
	if err != nil {
		yield("", err)
		return false
	}
	for _, p := range files {
		if !yield(p, nil) {
			return false
		}
	}
	children, err := f.EnumerateSubdirectories(dir)
	if err != nil {
		yield("", err)
		return false
	}
	for _, child := range children {
		if !f.walk(child, ext, yield) {
			return false
		}
	}
	return true
}

// ReadText loads a script's text.
func (f *FileSystem) ReadText(path string) (string, error) {
	b, err := afero.ReadFile(f.fs, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

// CopyFile copies src to dst, creating the destination directory.
func (f *FileSystem) CopyFile(src, dst string, overwrite bool) error {
	return copyBetween(f.fs, src, f.fs, dst, overwrite)
}

// CopyFromOS copies a file of the real filesystem, such as the log file, into f.
func (f *FileSystem) CopyFromOS(src, dst string, overwrite bool) error {
	return copyBetween(afero.NewOsFs(), src, f.fs, dst, overwrite)
}

func copyBetween(srcFs afero.Fs, src string, dstFs afero.Fs, dst string, overwrite bool) error {
	if !overwrite {
		if _, err := dstFs.Stat(dst); err == nil {
			return fmt.Errorf("copy %s to %s: %w", src, dst, ErrDestinationExists)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("copy %s to %s: %w", src, dst, err)
		}
	}
	in, err := srcFs.Open(src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := dstFs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	out, err := dstFs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// FileName returns the last element of path.
func FileName(path string) string { return filepath.Base(path) }

// Combine joins path elements.
func Combine(paths ...string) string { return filepath.Join(paths...) }
