package connector

import (
	"reflect"
	"testing"
)

func TestSplitOnGo(t *testing.T) {
	script := "CREATE TABLE a (id int)\nGO\n\ngo  \r\nCREATE VIEW v AS SELECT 1 AS goal\n  GO -- end\nPRINT 'GO'"
	got := SplitOnGo(script)
	want := []string{
		"CREATE TABLE a (id int)",
		"CREATE VIEW v AS SELECT 1 AS goal",
		"PRINT 'GO'",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitOnGo = %#v", got)
	}
	if got := SplitOnGo("  \nGO\n"); len(got) != 0 {
		t.Fatalf("expected no batches, got %#v", got)
	}
}

var mysqlOptions = SplitOptions{BackslashEscapes: true, HashComments: true, Blocks: true, Delimiters: true}

func TestSplitOnSemicolons(t *testing.T) {
	cases := []struct {
		name string
		in   string
		opts SplitOptions
		want []string
	}{
		{
			name: "plain",
			in:   "CREATE TABLE a (id int); INSERT INTO a VALUES (1);",
			want: []string{"CREATE TABLE a (id int)", "INSERT INTO a VALUES (1)"},
		},
		{
			name: "quoted semicolons",
			in:   `INSERT INTO a VALUES ('x;y', "p;q"); SELECT 'it''s;'`,
			want: []string{`INSERT INTO a VALUES ('x;y', "p;q")`, `SELECT 'it''s;'`},
		},
		{
			name: "comments",
			in:   "-- leading; comment\nSELECT 1; /* block; */ SELECT 2;\n-- trailing only;",
			want: []string{"-- leading; comment\nSELECT 1", "/* block; */ SELECT 2"},
		},
		{
			name: "dollar quoted body",
			in:   "CREATE FUNCTION f() RETURNS int AS $body$ BEGIN RETURN 1; END; $body$ LANGUAGE plpgsql; SELECT $1",
			opts: SplitOptions{DollarQuotes: true},
			want: []string{"CREATE FUNCTION f() RETURNS int AS $body$ BEGIN RETURN 1; END; $body$ LANGUAGE plpgsql", "SELECT $1"},
		},
		{
			name: "anonymous dollar quote",
			in:   "DO $$ BEGIN PERFORM 1; END $$;",
			opts: SplitOptions{DollarQuotes: true},
			want: []string{"DO $$ BEGIN PERFORM 1; END $$"},
		},
		{
			name: "backslash escapes",
			in:   `INSERT INTO t VALUES ('a\';b'); SELECT 1`,
			opts: SplitOptions{BackslashEscapes: true},
			want: []string{`INSERT INTO t VALUES ('a\';b')`, "SELECT 1"},
		},
		{
			name: "backtick identifiers",
			in:   "CREATE TABLE `a;b` (id int); SELECT 1",
			opts: SplitOptions{BackslashEscapes: true},
			want: []string{"CREATE TABLE `a;b` (id int)", "SELECT 1"},
		},
		{
			name: "empty",
			in:   " ;\n; ",
			want: nil,
		},
		{
			name: "procedure body",
			in:   "CREATE PROCEDURE p() BEGIN SELECT 1; SELECT 2; END; SELECT 3;",
			opts: mysqlOptions,
			want: []string{"CREATE PROCEDURE p() BEGIN SELECT 1; SELECT 2; END", "SELECT 3"},
		},
		{
			name: "trigger body",
			in:   "CREATE TRIGGER trg BEFORE INSERT ON a FOR EACH ROW\nBEGIN\n  SET NEW.x = 1;\n  INSERT INTO audit VALUES (NEW.id);\nEND;\nINSERT INTO a (id) VALUES (1);",
			opts: mysqlOptions,
			want: []string{
				"CREATE TRIGGER trg BEFORE INSERT ON a FOR EACH ROW\nBEGIN\n  SET NEW.x = 1;\n  INSERT INTO audit VALUES (NEW.id);\nEND",
				"INSERT INTO a (id) VALUES (1)",
			},
		},
		{
			name: "nested control flow",
			in:   "CREATE PROCEDURE q(n INT) BEGIN IF n > 0 THEN SELECT CASE n WHEN 1 THEN 'a' ELSE 'b' END; END IF; CASE n WHEN 2 THEN SELECT 2; END CASE; WHILE n > 0 DO SET n = n - 1; END WHILE; END; SELECT 4;",
			opts: mysqlOptions,
			want: []string{
				"CREATE PROCEDURE q(n INT) BEGIN IF n > 0 THEN SELECT CASE n WHEN 1 THEN 'a' ELSE 'b' END; END IF; CASE n WHEN 2 THEN SELECT 2; END CASE; WHILE n > 0 DO SET n = n - 1; END WHILE; END",
				"SELECT 4",
			},
		},
		{
			name: "transaction begin",
			in:   "BEGIN; INSERT INTO a VALUES (1); COMMIT; BEGIN WORK; SELECT 1; COMMIT;",
			opts: mysqlOptions,
			want: []string{"BEGIN", "INSERT INTO a VALUES (1)", "COMMIT", "BEGIN WORK", "SELECT 1", "COMMIT"},
		},
		{
			name: "delimiter sections",
			in:   "DELIMITER $$\nCREATE FUNCTION f() RETURNS INT BEGIN RETURN 1; END$$\nDELIMITER ;\nSELECT f();",
			opts: mysqlOptions,
			want: []string{"CREATE FUNCTION f() RETURNS INT BEGIN RETURN 1; END", "SELECT f()"},
		},
		{
			name: "hash comments",
			in:   "# note; here\nSELECT 1; # trailing; only",
			opts: mysqlOptions,
			want: []string{"# note; here\nSELECT 1"},
		},
		{
			name: "blocks off",
			in:   "CREATE PROCEDURE p() BEGIN SELECT 1; END;",
			want: []string{"CREATE PROCEDURE p() BEGIN SELECT 1", "END"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitOnSemicolons(tc.in, tc.opts)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("SplitOnSemicolons(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestBatches(t *testing.T) {
	trigger := "CREATE TRIGGER trg AFTER INSERT ON users BEGIN\n  INSERT INTO audit (name) VALUES (NEW.name);\nEND;\nINSERT INTO users (name) VALUES ('carol');"
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"whole script", trigger, []string{trigger}},
		{"go separated", "CREATE TABLE a (id int);\nGO\n" + trigger, []string{"CREATE TABLE a (id int);", trigger}},
		{"comment only batch dropped", "-- header\nGO\nSELECT 1;\nGO\n/* footer */", []string{"SELECT 1;"}},
		{"empty", "\n  \n", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Batches(tc.in, SplitOptions{})
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Batches(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}
