package compiler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/sqlwasm/pkg/config"
	"github.com/umputun/sqlwasm/pkg/executor"
	"github.com/umputun/sqlwasm/pkg/failure"
)

// fakeExec records commands and fails those with a tag listed in fail
type fakeExec struct {
	lock sync.Mutex
	cmds []executor.Command
	fail map[string]bool
	out  []string
}

func (f *fakeExec) Run(_ context.Context, cmd executor.Command) (executor.Result, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.cmds = append(f.cmds, cmd)
	if f.fail[cmd.Tag] {
		return executor.Result{ExitCode: 1}, failure.Process(cmd.Tag, &executor.ExitError{Cmd: cmd.String(), Code: 1})
	}
	return executor.Result{Output: f.out}, nil
}

func (f *fakeExec) lines() []string {
	res := []string{}
	for _, c := range f.cmds {
		res = append(res, c.String())
	}
	return res
}

var testCompiler = config.Compiler{
	CC:      "emcc",
	CFlags:  []string{"-O2", "-DSQLITE_THREADSAFE=0"},
	EMFlags: []string{"-s", "EXPORTED_FUNCTIONS=@{src}/sqljs/exported_functions.json", "--pre-js", "{src}/sqljs/api.js"},
	Units:   []config.Unit{{Src: "sqlite3.c", Obj: "sqlite3.bc"}, {Src: "extension-functions.c", Obj: "extension-functions.bc"}},
	Output:  "sql-wasm.js",
}

func TestDriver_Version(t *testing.T) {
	ex := &fakeExec{out: []string{"emcc (Emscripten gcc/clang-like replacement) 3.1.64", "Copyright"}}
	d := Driver{Exec: ex, Compiler: testCompiler}
	v, err := d.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "emcc (Emscripten gcc/clang-like replacement) 3.1.64", v)
	assert.Equal(t, []string{"emcc --version"}, ex.lines())

	t.Run("failed", func(t *testing.T) {
		d := Driver{Exec: &fakeExec{fail: map[string]bool{"version": true}}, Compiler: testCompiler}
		_, err := d.Version(context.Background())
		require.Error(t, err)
		assert.Equal(t, failure.KindProcess, failure.KindOf(err))
	})
}

func TestDriver_Compile(t *testing.T) {
	for _, concurrency := range []int{1, 2} {
		ex := &fakeExec{}
		d := Driver{Exec: ex, Compiler: testCompiler, Concurrency: concurrency}
		objs, err := d.Compile(context.Background(), "src", "out")
		require.NoError(t, err)
		assert.Equal(t, []string{"out/sqlite3.bc", "out/extension-functions.bc"}, objs)
		assert.ElementsMatch(t, []string{
			"emcc -O2 -DSQLITE_THREADSAFE=0 -c src/sqlite3.c -o out/sqlite3.bc",
			"emcc -O2 -DSQLITE_THREADSAFE=0 -c src/extension-functions.c -o out/extension-functions.bc",
		}, ex.lines())
	}
	assert.Equal(t, []string{"-O2", "-DSQLITE_THREADSAFE=0"}, testCompiler.CFlags, "flags not mutated")
}

func TestDriver_CompileFailure(t *testing.T) {
	t.Run("sequential stops on first failure", func(t *testing.T) {
		ex := &fakeExec{fail: map[string]bool{"sqlite3.c": true}}
		d := Driver{Exec: ex, Compiler: testCompiler}
		_, err := d.Compile(context.Background(), "src", "out")
		require.Error(t, err)
		assert.Equal(t, failure.KindProcess, failure.KindOf(err))
		assert.Len(t, ex.cmds, 1)
	})

	t.Run("parallel failure", func(t *testing.T) {
		ex := &fakeExec{fail: map[string]bool{"sqlite3.c": true, "extension-functions.c": true}}
		d := Driver{Exec: ex, Compiler: testCompiler, Concurrency: 2}
		_, err := d.Compile(context.Background(), "src", "out")
		require.Error(t, err)
		assert.Equal(t, failure.KindProcess, failure.KindOf(err))
		assert.Contains(t, err.Error(), "can't compile")
		var ee *executor.ExitError
		assert.True(t, errors.As(err, &ee))
	})
}

func TestDriver_Link(t *testing.T) {
	ex := &fakeExec{}
	d := Driver{Exec: ex, Compiler: testCompiler}
	out, err := d.Link(context.Background(), "/b/src", "/b/out", []string{"/b/out/sqlite3.bc", "/b/out/extension-functions.bc"})
	require.NoError(t, err)
	assert.Equal(t, "/b/out/sql-wasm.js", out)
	require.Len(t, ex.cmds, 1)
	assert.Equal(t, "link", ex.cmds[0].Tag)
	assert.Equal(t, "emcc -s EXPORTED_FUNCTIONS=@/b/src/sqljs/exported_functions.json --pre-js /b/src/sqljs/api.js "+
		"/b/out/sqlite3.bc /b/out/extension-functions.bc -o /b/out/sql-wasm.js", ex.cmds[0].String())

	t.Run("failed", func(t *testing.T) {
		d := Driver{Exec: &fakeExec{fail: map[string]bool{"link": true}}, Compiler: testCompiler}
		_, err := d.Link(context.Background(), "src", "out", []string{"out/sqlite3.bc"})
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "can't link sql-wasm.js"))
	})
}
