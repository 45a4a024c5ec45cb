package verify

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sqlwasm/pkg/failure"
)

// wasmWithExports makes a minimal module with a single empty function exported under all the names.
// Names are expected to be short, all section sizes fit into a single leb128 byte.
func wasmWithExports(names ...string) []byte {
	res := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	res = append(res, 0x01, 0x04, 0x01, 0x60, 0x00, 0x00) // type section, func() -> ()
	res = append(res, 0x03, 0x02, 0x01, 0x00)             // function section, one function of type 0

	exports := []byte{byte(len(names))}
	for _, n := range names {
		exports = append(exports, byte(len(n)))
		exports = append(exports, n...)
		exports = append(exports, 0x00, 0x00) // func kind, index 0
	}
	res = append(res, 0x07, byte(len(exports)))
	res = append(res, exports...)

	res = append(res, 0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b) // code section, empty body
	return res
}

func TestModule(t *testing.T) {
	dir := t.TempDir()
	wasm := filepath.Join(dir, "sql-wasm.wasm")
	require.NoError(t, os.WriteFile(wasm, wasmWithExports("sqlite3_open", "malloc", "free"), 0o600))
	manifest := filepath.Join(dir, "exported_functions.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`["_malloc", "_free", "_sqlite3_open", "_sqlite3_close_v2"]`), 0o600))

	t.Run("with manifest", func(t *testing.T) {
		rep, err := Module(context.Background(), wasm, manifest)
		require.NoError(t, err)
		assert.Equal(t, []string{"free", "malloc", "sqlite3_open"}, rep.Exports)
		assert.Equal(t, []string{"sqlite3_close_v2"}, rep.Missing)
		assert.Equal(t, 0, rep.Imports)
		assert.False(t, rep.Memory)
	})

	t.Run("without manifest", func(t *testing.T) {
		rep, err := Module(context.Background(), wasm, "")
		require.NoError(t, err)
		assert.Len(t, rep.Exports, 3)
		assert.Empty(t, rep.Missing)
	})

	t.Run("bad manifest", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{"not": "a list"}`), 0o600))
		_, err := Module(context.Background(), wasm, bad)
		require.Error(t, err)
		assert.Equal(t, failure.KindArchive, failure.KindOf(err))
	})

	t.Run("missing manifest", func(t *testing.T) {
		_, err := Module(context.Background(), wasm, filepath.Join(dir, "nope.json"))
		require.Error(t, err)
		assert.Equal(t, failure.KindFilesystem, failure.KindOf(err))
	})
}

func TestModule_Invalid(t *testing.T) {
	dir := t.TempDir()

	t.Run("garbage", func(t *testing.T) {
		wasm := filepath.Join(dir, "garbage.wasm")
		require.NoError(t, os.WriteFile(wasm, []byte("not a wasm module"), 0o600))
		_, err := Module(context.Background(), wasm, "")
		require.Error(t, err)
		assert.Equal(t, failure.KindProcess, failure.KindOf(err))
	})

	t.Run("truncated", func(t *testing.T) {
		wasm := filepath.Join(dir, "truncated.wasm")
		full := wasmWithExports("f")
		require.NoError(t, os.WriteFile(wasm, full[:len(full)-3], 0o600))
		_, err := Module(context.Background(), wasm, "")
		require.Error(t, err)
	})

	t.Run("no file", func(t *testing.T) {
		_, err := Module(context.Background(), filepath.Join(dir, "nope.wasm"), "")
		require.Error(t, err)
		assert.Equal(t, failure.KindFilesystem, failure.KindOf(err))
	})
}
