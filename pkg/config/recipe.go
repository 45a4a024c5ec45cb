// Package config loads build recipes. A recipe pins every remote source (amalgamation, extensions,
// runtime archives) and the compiler flag set of one sql.js build version. Recipes are loaded once at
// startup, either from the built-in set or from a yaml/toml file, and never mutated afterwards.
package config

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/umputun/sqlwasm/pkg/archive"
	"github.com/umputun/sqlwasm/pkg/config/deepcopy"
)

// fixed names inside the source tree
const (
	AmalgamationFile     = "sqlite3.c"
	ContribFunctionsFile = "extension-functions.c"
	defaultInitFunction  = "extra_init"
	defaultCC            = "emcc"
	defaultOutput        = "sql-wasm.js"
	srcPlaceholder       = "{src}"
)

// Recipe defines the complete set of inputs for a build
type Recipe struct {
	Name             string      `yaml:"name" toml:"name"`                           // recipe name, e.g. sqljs-1.7.0
	Description      string      `yaml:"description" toml:"description"`             // optional human description
	Amalgamation     string      `yaml:"amalgamation" toml:"amalgamation"`           // zip with sqlite3.c and headers
	ContribFunctions string      `yaml:"contrib_functions" toml:"contrib_functions"` // extension-functions.c, compiled separately
	InitFunction     string      `yaml:"init_function" toml:"init_function"`         // name of generated SQLITE_EXTRA_INIT function
	Extensions       []Extension `yaml:"extensions" toml:"extensions"`               // appended to the amalgamation, in order
	Archives         []Archive   `yaml:"archives" toml:"archives"`                   // extracted into subdirectories
	Compiler         Compiler    `yaml:"compiler" toml:"compiler"`
	Wrapper          Wrapper     `yaml:"wrapper" toml:"wrapper"`
}

// Extension is a single-file sqlite extension and its init function
type Extension struct {
	URL  string `yaml:"url" toml:"url"`
	Init string `yaml:"init" toml:"init"`
}

// Archive defines a remote zip or tar.gz and which of its members to keep
type Archive struct {
	Name    string   `yaml:"name" toml:"name"`       // used in logs
	URL     string   `yaml:"url" toml:"url"`         // zip or tar.gz
	Dir     string   `yaml:"dir" toml:"dir"`         // target subdirectory in the source tree
	Subdir  string   `yaml:"subdir" toml:"subdir"`   // directory inside the archive root, empty for root
	Objects string   `yaml:"objects" toml:"objects"` // makefile object listing, "lapi.o lcode.o ..."
	Stems   []string `yaml:"stems" toml:"stems"`     // extra allowed base names, e.g. header-only files
	Exclude []string `yaml:"exclude" toml:"exclude"` // base names to skip
}

// Compiler defines the external toolchain invocation
type Compiler struct {
	CC      string   `yaml:"cc" toml:"cc"`           // compiler front end, emcc by default
	CFlags  []string `yaml:"cflags" toml:"cflags"`   // flags for each translation unit
	EMFlags []string `yaml:"emflags" toml:"emflags"` // link flags, {src} expands to the source tree
	Units   []Unit   `yaml:"units" toml:"units"`     // translation units, compiled independently
	Output  string   `yaml:"output" toml:"output"`   // glue js produced by the link, wasm sits next to it
}

// Unit is a single translation unit
type Unit struct {
	Src string `yaml:"src" toml:"src"` // relative to the source tree
	Obj string `yaml:"obj" toml:"obj"` // relative to the output tree
}

// Wrapper defines the fragments wrapped around the generated glue, relative to the source tree
type Wrapper struct {
	Prologue string `yaml:"prologue" toml:"prologue"`
	Epilogue string `yaml:"epilogue" toml:"epilogue"`
	Manifest string `yaml:"manifest" toml:"manifest"` // exported functions json, used for verification only
}

// Overrides defines recipe overrides passed from cli
type Overrides struct {
	CC string
}

// Clone returns a deep copy of the recipe. Stages keep their own copy, so nothing can leak back.
func (r Recipe) Clone() Recipe {
	return deepcopy.Of(r)
}

// InitFunctions returns init function names of all extensions, in configured order
func (r Recipe) InitFunctions() []string {
	res := make([]string, 0, len(r.Extensions))
	for _, e := range r.Extensions {
		res = append(res, e.Init)
	}
	return res
}

// WasmOutput returns the name of the wasm binary produced next to the glue js
func (c Compiler) WasmOutput() string {
	return strings.TrimSuffix(c.Output, path.Ext(c.Output)) + ".wasm"
}

// ExpandFlags returns link flags with {src} replaced by the source tree location
func (c Compiler) ExpandFlags(srcDir string) []string {
	res := make([]string, 0, len(c.EMFlags))
	for _, f := range c.EMFlags {
		res = append(res, strings.ReplaceAll(f, srcPlaceholder, srcDir))
	}
	return res
}

var cIdentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsCIdent checks if s can be used as a C function name
func IsCIdent(s string) bool {
	return cIdentRe.MatchString(s)
}

func (r *Recipe) applyDefaults(overrides *Overrides) {
	if r.InitFunction == "" {
		r.InitFunction = defaultInitFunction
	}
	if r.Compiler.CC == "" {
		r.Compiler.CC = defaultCC
	}
	if r.Compiler.Output == "" {
		r.Compiler.Output = defaultOutput
	}
	if overrides != nil && overrides.CC != "" {
		r.Compiler.CC = overrides.CC
	}
}

// Validate checks the recipe and reports all problems at once
func (r Recipe) Validate() error {
	errs := new(multierror.Error)
	fail := func(format string, v ...any) { errs = multierror.Append(errs, fmt.Errorf(format, v...)) }

	if r.Name == "" {
		fail("recipe name is required")
	}
	if err := checkURL(r.Amalgamation); err != nil {
		fail("amalgamation: %v", err)
	}
	if err := checkURL(r.ContribFunctions); err != nil {
		fail("contrib_functions: %v", err)
	}
	if !IsCIdent(r.InitFunction) {
		fail("init_function %q is not a valid C identifier", r.InitFunction)
	}

	inits := make(map[string]bool)
	for i, e := range r.Extensions {
		if err := checkURL(e.URL); err != nil {
			fail("extension #%d: %v", i, err)
		}
		if !IsCIdent(e.Init) {
			fail("extension #%d: init %q is not a valid C identifier", i, e.Init)
			continue
		}
		if inits[e.Init] {
			fail("extension #%d: duplicate init %q", i, e.Init)
		}
		inits[e.Init] = true
	}

	dirs := make(map[string]bool)
	for i, a := range r.Archives {
		if err := checkURL(a.URL); err != nil {
			fail("archive %q: %v", a.Name, err)
		}
		if a.Name == "" {
			fail("archive #%d: name is required", i)
		}
		if a.Dir == "" || a.Dir == "." || strings.ContainsAny(a.Dir, `/\`) {
			fail("archive %q: dir %q must be a plain directory name", a.Name, a.Dir)
		}
		if a.Objects != "" && len(archive.Stems(a.Objects, a.Stems...)) == 0 {
			fail("archive %q: objects listing has no *.o names, nothing would be selected by it", a.Name)
		}
		if dirs[a.Dir] {
			fail("archive %q: duplicate dir %q", a.Name, a.Dir)
		}
		dirs[a.Dir] = true
	}

	if len(r.Compiler.Units) == 0 {
		fail("compiler: at least one unit is required")
	}
	for i, u := range r.Compiler.Units {
		if u.Src == "" || u.Obj == "" {
			fail("compiler: unit #%d needs both src and obj", i)
		}
	}
	if len(r.Extensions) > 0 {
		want := "-DSQLITE_EXTRA_INIT=" + r.InitFunction
		found := false
		for _, f := range r.Compiler.CFlags {
			if f == want {
				found = true
				break
			}
		}
		if !found {
			fail("compiler: cflags must contain %s to register extensions", want)
		}
	}
	if !strings.HasSuffix(r.Compiler.Output, ".js") {
		fail("compiler: output %q must be a .js file", r.Compiler.Output)
	}
	if r.Wrapper.Prologue == "" || r.Wrapper.Epilogue == "" {
		fail("wrapper: prologue and epilogue are required")
	}

	return errs.ErrorOrNil()
}

func checkURL(s string) error {
	if s == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", s, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme in %q", s)
	}
	if u.Host == "" {
		return fmt.Errorf("no host in url %q", s)
	}
	return nil
}
