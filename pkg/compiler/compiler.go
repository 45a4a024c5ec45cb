// Package compiler drives the external C-to-WebAssembly toolchain. Each translation unit is compiled
// into its own object with the recipe cflags, then all objects are linked into the wasm module and
// its js glue with the recipe emflags. Any non-zero exit aborts the build.
package compiler

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/go-pkgz/syncs"
	"github.com/hashicorp/go-multierror"

	"github.com/umputun/sqlwasm/pkg/config"
	"github.com/umputun/sqlwasm/pkg/executor"
)

// Driver invokes the compiler front end
type Driver struct {
	Exec        executor.Interface
	Compiler    config.Compiler
	Concurrency int // units compiled in parallel, sequential if 1 or less
}

// Version runs the compiler with --version as a sanity check and returns the first line of its output
func (d *Driver) Version(ctx context.Context) (string, error) {
	res, err := d.Exec.Run(ctx, executor.Command{Tag: "version", Path: d.Compiler.CC, Args: []string{"--version"}})
	if err != nil {
		return "", fmt.Errorf("can't get compiler version: %w", err)
	}
	if len(res.Output) == 0 {
		return "", nil
	}
	return res.Output[0], nil
}

// Compile builds object files for all units from srcDir into outDir and returns their paths in unit order.
// Failures of parallel compiles are collected, all of them are reported.
func (d *Driver) Compile(ctx context.Context, srcDir, outDir string) ([]string, error) {
	units := d.Compiler.Units
	objs := make([]string, len(units))
	for i, u := range units {
		objs[i] = filepath.Join(outDir, u.Obj)
	}

	if d.Concurrency <= 1 || len(units) < 2 {
		for i, u := range units {
			if err := d.compileUnit(ctx, filepath.Join(srcDir, u.Src), objs[i]); err != nil {
				return nil, err
			}
		}
		return objs, nil
	}

	var (
		lock sync.Mutex
		errs *multierror.Error
	)
	wg := syncs.NewErrSizedGroup(d.Concurrency, syncs.Context(ctx), syncs.Preemptive)
	for i, u := range units {
		wg.Go(func() error {
			if err := d.compileUnit(ctx, filepath.Join(srcDir, u.Src), objs[i]); err != nil {
				lock.Lock()
				errs = multierror.Append(errs, err)
				lock.Unlock()
				return err
			}
			return nil
		})
	}
	werr := wg.Wait()
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	if werr != nil {
		return nil, fmt.Errorf("can't compile units: %w", werr)
	}
	return objs, nil
}

func (d *Driver) compileUnit(ctx context.Context, src, obj string) error {
	log.Printf("[INFO] building object for %s", filepath.Base(src))
	args := append(append([]string{}, d.Compiler.CFlags...), "-c", src, "-o", obj)
	if _, err := d.Exec.Run(ctx, executor.Command{Tag: filepath.Base(src), Path: d.Compiler.CC, Args: args}); err != nil {
		return fmt.Errorf("can't compile %s: %w", filepath.Base(src), err)
	}
	return nil
}

// Link builds the wasm module and js glue from objs into outDir. Returns the path of the glue js,
// wasm binary is placed next to it by the toolchain.
func (d *Driver) Link(ctx context.Context, srcDir, outDir string, objs []string) (string, error) {
	log.Printf("[INFO] building wasm from %d objects", len(objs))
	out := filepath.Join(outDir, d.Compiler.Output)
	args := append(d.Compiler.ExpandFlags(srcDir), objs...)
	args = append(args, "-o", out)
	if _, err := d.Exec.Run(ctx, executor.Command{Tag: "link", Path: d.Compiler.CC, Args: args}); err != nil {
		return "", fmt.Errorf("can't link %s: %w", d.Compiler.Output, err)
	}
	return out, nil
}
