package connector

import (
	"strings"
)

// Option is one key=value segment of a semicolon separated connection string.
// Key keeps its original spelling.
type Option struct {
	Key   string
	Value string
}

// ParseOptions splits a connection string on ';' and then each segment on the
// first '='. Empty segments are dropped; a segment without '=' becomes a key
// with an empty value.
func ParseOptions(connectionString string) []Option {
	var out []Option
	for _, part := range strings.Split(connectionString, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		out = append(out, Option{Key: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
	}
	return out
}

// FormatOptions renders options back into "k=v;k=v;" form.
func FormatOptions(opts []Option) string {
	var b strings.Builder
	for _, o := range opts {
		b.WriteString(o.Key)
		b.WriteString("=")
		b.WriteString(o.Value)
		b.WriteString(";")
	}
	return b.String()
}

// Lookup returns the value of the first option whose key matches one of keys,
// case-insensitively.
func Lookup(opts []Option, keys ...string) (string, bool) {
	for _, o := range opts {
		if KeyIs(o.Key, keys...) {
			return o.Value, true
		}
	}
	return "", false
}

// KeyIs reports whether key equals one of candidates, ignoring case and
// surrounding space.
func KeyIs(key string, candidates ...string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	for _, c := range candidates {
		if k == c {
			return true
		}
	}
	return false
}

// Keys recognised by the gateway and by every dialect's DSN builder.
var (
	ServerKeys      = []string{"server", "data source", "address", "addr", "host"}
	DatabaseKeys    = []string{"initial catalog", "database", "dbname"}
	UserKeys        = []string{"user id", "uid", "user", "username"}
	PasswordKeys    = []string{"password", "pwd"}
	PortKeys        = []string{"port"}
	IntegratedKeys  = []string{"integrated security", "trusted_connection"}
	ConnectTimeouts = []string{"connect timeout", "connection timeout", "timeout"}
)

// File-backed databases (SQLite) read "data source" as the database file.
var (
	FileServerKeys   = []string{"server", "address", "addr", "host"}
	FileDatabaseKeys = []string{"data source", "initial catalog", "database", "dbname", "filename"}
)
