package config

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/umputun/sqlwasm/pkg/failure"
)

//go:embed recipes/*.yml
var builtinFS embed.FS

// DefaultRecipe is the built-in recipe used when nothing else is requested
const DefaultRecipe = "sqljs-1.7.0"

// New makes a recipe from the file fname if set, or from the built-in recipe name otherwise.
// Defaults and overrides are applied before validation.
func New(name, fname string, overrides *Overrides) (*Recipe, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case fname != "":
		log.Printf("[DEBUG] request to load recipe file %q", fname)
		if data, err = os.ReadFile(fname); err != nil { // nolint
			return nil, failure.Config("read recipe", err)
		}
	default:
		if name == "" {
			name = DefaultRecipe
		}
		fname = "recipes/" + name + ".yml"
		if data, err = fs.ReadFile(builtinFS, fname); err != nil {
			return nil, failure.Config("load recipe", fmt.Errorf("unknown recipe %q, available: %s",
				name, strings.Join(Names(), ", ")))
		}
	}

	res := &Recipe{}
	if err = unmarshalRecipe(fname, data, res); err != nil {
		return nil, failure.Config("parse recipe", err)
	}
	res.applyDefaults(overrides)
	if err = res.Validate(); err != nil {
		return nil, failure.Config("validate recipe", fmt.Errorf("recipe %s is invalid: %w", fname, err))
	}
	log.Printf("[INFO] recipe %q loaded with %d extensions and %d archives", res.Name, len(res.Extensions), len(res.Archives))
	return res, nil
}

// Names returns names of all built-in recipes, sorted
func Names() []string {
	entries, err := fs.ReadDir(builtinFS, "recipes")
	if err != nil {
		return nil
	}
	res := make([]string, 0, len(entries))
	for _, e := range entries {
		res = append(res, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(res)
	return res
}

// Builtin returns all built-in recipes, sorted by name
func Builtin() ([]Recipe, error) {
	res := []Recipe{}
	for _, name := range Names() {
		r, err := New(name, "", nil)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}
	return res, nil
}

// unmarshalRecipe parses recipe data, the format is picked by file extension, yaml by default
func unmarshalRecipe(fname string, data []byte, res *Recipe) error {
	switch {
	case strings.HasSuffix(fname, ".yml") || strings.HasSuffix(fname, ".yaml") || !strings.Contains(path.Base(fname), "."):
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true) // strict mode, fail on unknown fields
		if err := dec.Decode(res); err != nil {
			return fmt.Errorf("can't unmarshal yaml recipe %s: %w", fname, err)
		}
	case strings.HasSuffix(fname, ".toml"):
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(res); err != nil {
			return fmt.Errorf("can't unmarshal toml recipe %s: %w", fname, err)
		}
	default:
		return fmt.Errorf("unknown recipe format %s", fname)
	}
	return nil
}
