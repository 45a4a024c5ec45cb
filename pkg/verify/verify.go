// Package verify checks the produced wasm module. It is compiled with wazero, which validates the whole
// binary, and its exports are compared with the exported functions manifest passed to the linker.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"

	"github.com/umputun/sqlwasm/pkg/failure"
)

// Report describes a validated module
type Report struct {
	Exports []string // exported function names, sorted
	Imports int      // number of imported functions, provided by the js glue at runtime
	Memory  bool     // module exports its memory
	Missing []string // manifest functions not exported by the module
}

// Module validates the wasm binary at wasmFile. If manifest is set, it is read as a json list of
// exported functions in emscripten notation (with leading underscore) and checked against the exports.
// Missing exports are reported, not failed, as the toolchain may rename exports under some settings.
func Module(ctx context.Context, wasmFile, manifest string) (Report, error) {
	st := time.Now()
	bin, err := os.ReadFile(wasmFile) // nolint
	if err != nil {
		return Report{}, failure.Filesystem("read wasm", err)
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx) // nolint

	compiled, err := r.CompileModule(ctx, bin)
	if err != nil {
		return Report{}, failure.Process("verify wasm", fmt.Errorf("invalid module %s: %w", wasmFile, err))
	}
	defer compiled.Close(ctx) // nolint

	res := Report{Imports: len(compiled.ImportedFunctions()), Memory: len(compiled.ExportedMemories()) > 0}
	for name := range compiled.ExportedFunctions() {
		res.Exports = append(res.Exports, name)
	}
	sort.Strings(res.Exports)

	if manifest != "" {
		want, err := readManifest(manifest)
		if err != nil {
			return Report{}, err
		}
		exported := make(map[string]bool, len(res.Exports))
		for _, e := range res.Exports {
			exported[e] = true
		}
		for _, w := range want {
			if !exported[w] {
				res.Missing = append(res.Missing, w)
			}
		}
	}
	log.Printf("[DEBUG] verified %s in %v, exports:%d, imports:%d, missing:%d", wasmFile,
		time.Since(st).Truncate(time.Millisecond), len(res.Exports), res.Imports, len(res.Missing))
	return res, nil
}

// readManifest loads exported_functions.json, names are returned without the leading underscore
func readManifest(fname string) ([]string, error) {
	data, err := os.ReadFile(fname) // nolint
	if err != nil {
		return nil, failure.Filesystem("read manifest", err)
	}
	var names []string
	if err = json.Unmarshal(data, &names); err != nil {
		return nil, failure.Archive("parse manifest", fmt.Errorf("can't parse %s: %w", fname, err))
	}
	res := make([]string, 0, len(names))
	for _, n := range names {
		res = append(res, strings.TrimPrefix(n, "_"))
	}
	return res, nil
}
