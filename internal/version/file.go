package version

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// FileConfig configures the file resolver. Path is a gjson path for JSON files
// and a dotted key path for YAML files; plain files use their first non-blank
// line.
type FileConfig struct {
	File string `mapstructure:"file"`
	Path string `mapstructure:"path"`
}

// File reads the version from a file.
type File struct {
	C FileConfig
	// Fs defaults to the OS filesystem.
	Fs afero.Fs
}

func (f *File) Resolve(context.Context) (string, error) {
	fsys := f.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	b, err := afero.ReadFile(fsys, f.C.File)
	if err != nil {
		return "", fmt.Errorf("version: read %s: %w", f.C.File, err)
	}

	path := strings.TrimSpace(f.C.Path)
	var v string
	switch strings.ToLower(filepath.Ext(f.C.File)) {
	case ".json":
		v, err = fromJSON(b, path)
	case ".yaml", ".yml":
		v, err = fromYAML(b, path)
	default:
		v = firstLine(string(b))
	}
	if err != nil {
		return "", fmt.Errorf("version: %s: %w", f.C.File, err)
	}
	if v == "" {
		return "", fmt.Errorf("version: %s holds no version", f.C.File)
	}
	return v, nil
}

func fromJSON(b []byte, path string) (string, error) {
	if path == "" {
		path = "version"
	}
	if !gjson.ValidBytes(b) {
		return "", fmt.Errorf("invalid JSON")
	}
	res := gjson.GetBytes(b, path)
	if !res.Exists() {
		return "", fmt.Errorf("path %q not found", path)
	}
	return strings.TrimSpace(res.String()), nil
}

func fromYAML(b []byte, path string) (string, error) {
	if path == "" {
		path = "version"
	}
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return "", err
	}
	cur := doc
	for _, key := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return "", fmt.Errorf("path %q not found", path)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return "", fmt.Errorf("path %q not found", path)
			}
			cur = node[i]
		default:
			return "", fmt.Errorf("path %q not found", path)
		}
	}
	switch v := cur.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case map[string]any, []any:
		return "", fmt.Errorf("path %q is not a scalar", path)
	default:
		return fmt.Sprint(v), nil
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
