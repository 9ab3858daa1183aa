package version

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/loykin/dbkick/internal/constants"
)

// Resolver produces the version string recorded for a run. The value is
// opaque to the migrator.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context) (string, error) { return f(ctx) }

// Factory builds a Resolver from a loosely typed options map. Decoding into a
// concrete config struct is the factory's job.
type Factory func(options map[string]any) (Resolver, error)

var factories = map[string]Factory{}

func normalizeKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Register adds a resolver factory under a type key such as "file".
func Register(typ string, f Factory) {
	key := normalizeKey(typ)
	if key == "" || f == nil {
		return
	}
	factories[key] = f
}

// Types lists the registered resolver types.
func Types() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Config selects a resolver. An empty Type is "static".
type Config struct {
	Type    string         `mapstructure:"type"`
	Options map[string]any `mapstructure:",remain"`
}

// New builds the resolver for cfg.
func New(cfg Config) (Resolver, error) {
	typ := normalizeKey(cfg.Type)
	if typ == "" {
		typ = "static"
	}
	f, ok := factories[typ]
	if !ok {
		return nil, fmt.Errorf("version: unsupported resolver type %q (valid: %s)", cfg.Type, strings.Join(Types(), ", "))
	}
	return f(cfg.Options)
}

func decode(options map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(options)
}

// StaticConfig configures the static resolver.
type StaticConfig struct {
	Value string `mapstructure:"value"`
}

// Static always returns its value, or the default version when blank.
type Static struct{ C StaticConfig }

func (s Static) Resolve(context.Context) (string, error) {
	if v := strings.TrimSpace(s.C.Value); v != "" {
		return v, nil
	}
	return constants.DefaultVersion, nil
}

// EnvConfig configures the environment resolver.
type EnvConfig struct {
	Env string `mapstructure:"env"`
}

// Env reads the version from an environment variable.
type Env struct{ C EnvConfig }

func (e Env) Resolve(context.Context) (string, error) {
	name := strings.TrimSpace(e.C.Env)
	if name == "" {
		return "", errors.New("version: env resolver needs an env variable name")
	}
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("version: environment variable %s is not set", name)
	}
	return strings.TrimSpace(v), nil
}

func init() {
	Register("static", func(options map[string]any) (Resolver, error) {
		var c StaticConfig
		if err := decode(options, &c); err != nil {
			return nil, err
		}
		return Static{C: c}, nil
	})
	Register("env", func(options map[string]any) (Resolver, error) {
		var c EnvConfig
		if err := decode(options, &c); err != nil {
			return nil, err
		}
		return Env{C: c}, nil
	})
	Register("file", func(options map[string]any) (Resolver, error) {
		var c FileConfig
		if err := decode(options, &c); err != nil {
			return nil, err
		}
		if strings.TrimSpace(c.File) == "" {
			return nil, errors.New("version: file resolver needs a file")
		}
		return &File{C: c}, nil
	})
}
