package env

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

type Map map[string]string

// New returns an Env with its map initialized.
func New() *Env {
	return &Env{Global: Map{}}
}

// Env holds the variables that connection strings, restore paths and wait
// URLs may reference as {{.env.NAME}}. Process environment variables are
// reachable as {{.os.NAME}}.
type Env struct {
	Global Map `yaml:"env" json:"env" mapstructure:"env"`
	// lookupOS defaults to os.Environ; tests replace it.
	lookupOS func() []string
}

// UnmarshalYAML allows decoding a plain mapping under the `env` key directly into Global.
func (e *Env) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	var m map[string]string
	if err := value.Decode(&m); err != nil {
		return err
	}
	e.Global = m
	return nil
}

// Set stores a variable.
func (e *Env) Set(key, value string) {
	if e.Global == nil {
		e.Global = Map{}
	}
	e.Global[key] = value
}

// Lookup returns a configured variable.
func (e *Env) Lookup(key string) (string, bool) {
	if e == nil || e.Global == nil {
		return "", false
	}
	v, ok := e.Global[key]
	return v, ok
}

func (e *Env) osVars() map[string]string {
	environ := os.Environ
	if e != nil && e.lookupOS != nil {
		environ = e.lookupOS
	}
	out := map[string]string{}
	for _, kv := range environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func (e *Env) data() map[string]any {
	vars := Map{}
	if e != nil {
		maps.Copy(vars, e.Global)
	}
	return map[string]any{"env": vars, "os": e.osVars()}
}

// Render expands templates in s. A string without "{{" is returned as is.
func (e *Env) Render(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	t, err := template.New("value").Option("missingkey=error").Parse(s)
	if err != nil {
		return s, fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, e.data()); err != nil {
		return s, fmt.Errorf("render template: %w", err)
	}
	return buf.String(), nil
}

// RenderGoTemplate is Render that keeps the original string on any error.
func (e *Env) RenderGoTemplate(s string) string {
	out, err := e.Render(s)
	if err != nil {
		return s
	}
	return out
}
