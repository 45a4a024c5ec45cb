// Package runner implements the two build stages. Configure makes a fresh source tree with the
// amalgamation, the contrib functions, the extracted archives and the extended amalgamation.
// Build compiles the tree with the external toolchain and packages the artifacts into dist.
// Every failure is fatal, nothing is retried and nothing is cleaned up.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/go-pkgz/syncs"

	"github.com/umputun/sqlwasm/pkg/amalgam"
	"github.com/umputun/sqlwasm/pkg/archive"
	"github.com/umputun/sqlwasm/pkg/compiler"
	"github.com/umputun/sqlwasm/pkg/config"
	"github.com/umputun/sqlwasm/pkg/executor"
	"github.com/umputun/sqlwasm/pkg/failure"
	"github.com/umputun/sqlwasm/pkg/packager"
	"github.com/umputun/sqlwasm/pkg/verify"
)

// Fetcher downloads remote sources
type Fetcher interface {
	Bytes(ctx context.Context, url string) ([]byte, error)
	Stream(ctx context.Context, url string, w io.Writer) (int64, error)
	File(ctx context.Context, url, fname string) error
}

// Stats holds the information about a finished stage
type Stats struct {
	Stage     string
	State     State
	Started   time.Time
	Duration  time.Duration
	Files     int                 // files written into the source tree
	Compiler  string              // first line of the compiler version output
	Artifacts []packager.Artifact // files placed into dist
	Missing   []string            // manifest functions not exported by the wasm module
}

func newStats(stage string) Stats {
	return Stats{Stage: stage, State: StatePending, Started: time.Now()}
}

// finish moves stats to the terminal state matching err and passes err through
func (s *Stats) finish(err error) error {
	s.Duration = time.Since(s.Started)
	to := StateDone
	if err != nil {
		to = StateFailed
	}
	st, terr := s.State.next(to)
	if terr != nil {
		return errors.Join(err, terr)
	}
	s.State = st
	return err
}

// Configure is the fetch stage
type Configure struct {
	Recipe      *config.Recipe
	Fetcher     Fetcher
	Exec        executor.Interface
	Concurrency int
}

// Run makes srcDir and fills it. srcDir must not exist.
// The stage works on its own copy of the recipe taken at start.
func (c *Configure) Run(ctx context.Context, srcDir string) (s Stats, err error) {
	s = newStats("configure")
	defer func() { err = s.finish(err) }()
	rcp := c.Recipe.Clone()

	if err = os.Mkdir(srcDir, 0o750); err != nil {
		return s, failure.Filesystem("make source dir", err)
	}
	log.Printf("[INFO] configure %s into %s", rcp.Name, srcDir)

	files, err := c.amalgamation(ctx, rcp, srcDir)
	if err != nil {
		return s, err
	}
	s.Files += files

	log.Printf("[INFO] downloading %s", rcp.ContribFunctions)
	if err = c.Fetcher.File(ctx, rcp.ContribFunctions, filepath.Join(srcDir, config.ContribFunctionsFile)); err != nil {
		return s, fmt.Errorf("can't get contrib functions: %w", err)
	}
	s.Files++

	if files, err = c.archives(ctx, rcp.Archives, srcDir); err != nil {
		return s, err
	}
	s.Files += files

	asm := amalgam.Assembler{Fetcher: c.Fetcher, Concurrency: c.Concurrency}
	amalgamation := filepath.Join(srcDir, config.AmalgamationFile)
	if err = asm.Append(ctx, amalgamation, rcp); err != nil {
		return s, fmt.Errorf("can't extend amalgamation: %w", err)
	}

	drv := compiler.Driver{Exec: c.Exec, Compiler: rcp.Compiler}
	if s.Compiler, err = drv.Version(ctx); err != nil {
		return s, err
	}
	log.Printf("[INFO] compiler %s", s.Compiler)
	return s, nil
}

func (c *Configure) amalgamation(ctx context.Context, rcp config.Recipe, srcDir string) (int, error) {
	log.Printf("[INFO] downloading and extracting sqlite amalgamation %s", rcp.Amalgamation)
	names, err := extract(ctx, c.Fetcher, rcp.Amalgamation, srcDir, archive.Selector{})
	if err != nil {
		return 0, fmt.Errorf("can't get amalgamation: %w", err)
	}
	return len(names), nil
}

// archives extracts all recipe archives into their own subdirectories. Targets are distinct,
// so parallel extraction makes the same tree as the sequential one.
func (c *Configure) archives(ctx context.Context, archives []config.Archive, srcDir string) (int, error) {
	counts := make([]int, len(archives))
	errs := make([]error, len(archives))

	one := func(i int, a config.Archive) error {
		log.Printf("[INFO] downloading and extracting %s %s", a.Name, a.URL)
		dst := filepath.Join(srcDir, a.Dir)
		if err := os.Mkdir(dst, 0o750); err != nil {
			errs[i] = failure.Filesystem("make archive dir", err)
			return errs[i]
		}
		sel := archive.Selector{Subdir: a.Subdir, Exclude: a.Exclude}
		if a.Objects != "" || len(a.Stems) > 0 {
			sel.Stems = archive.Stems(a.Objects, a.Stems...)
		}
		names, err := extract(ctx, c.Fetcher, a.URL, dst, sel)
		if err != nil {
			errs[i] = fmt.Errorf("can't get %s: %w", a.Name, err)
			return errs[i]
		}
		counts[i] = len(names)
		log.Printf("[DEBUG] extracted %d files of %s into %s", len(names), a.Name, dst)
		return nil
	}

	if c.Concurrency <= 1 {
		total := 0
		for i, a := range archives {
			if err := one(i, a); err != nil {
				return 0, err
			}
			total += counts[i]
		}
		return total, nil
	}

	wg := syncs.NewErrSizedGroup(c.Concurrency, syncs.Context(ctx), syncs.Preemptive)
	for i, a := range archives {
		wg.Go(func() error { return one(i, a) })
	}
	werr := wg.Wait()
	// report the first failure in recipe order, canceled siblings only if nothing else failed
	var canceled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			if canceled == nil {
				canceled = err
			}
			continue
		}
		return 0, err
	}
	if canceled != nil {
		return 0, canceled
	}
	if werr != nil {
		return 0, fmt.Errorf("can't get archives: %w", werr)
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, nil
}

func extract(ctx context.Context, f Fetcher, url, dst string, sel archive.Selector) ([]string, error) {
	data, err := f.Bytes(ctx, url)
	if err != nil {
		return nil, err
	}
	arch, err := archive.Open(data)
	if err != nil {
		return nil, err
	}
	return arch.Extract(dst, sel)
}

// Build is the compile stage
type Build struct {
	Recipe      *config.Recipe
	Exec        executor.Interface
	Concurrency int
	Verify      bool // validate the wasm module after packaging
	Dry         bool // only print compiler commands, nothing is written
}

// Run compiles srcDir into outDir and packages the artifacts into distDir.
// Both outDir and distDir must not exist, srcDir must. The wasm module is verified in outDir,
// so a bad module never reaches distDir. The stage works on its own copy of the recipe taken at start.
func (b *Build) Run(ctx context.Context, srcDir, outDir, distDir string) (s Stats, err error) {
	s = newStats("build")
	defer func() { err = s.finish(err) }()
	rcp := b.Recipe.Clone()

	if _, err = os.Stat(srcDir); err != nil {
		return s, failure.Filesystem("check source dir", fmt.Errorf("source tree %s not found, run configure first: %w", srcDir, err))
	}
	if !b.Dry {
		for _, dir := range []string{distDir, outDir} {
			if err = os.Mkdir(dir, 0o750); err != nil {
				return s, failure.Filesystem("make output dir", err)
			}
		}
	}
	log.Printf("[INFO] build %s from %s", rcp.Name, srcDir)

	drv := compiler.Driver{Exec: b.Exec, Compiler: rcp.Compiler, Concurrency: b.Concurrency}
	objs, err := drv.Compile(ctx, srcDir, outDir)
	if err != nil {
		return s, err
	}
	glue, err := drv.Link(ctx, srcDir, outDir, objs)
	if err != nil {
		return s, err
	}
	if b.Dry {
		log.Printf("[INFO] dry mode, packaging skipped")
		return s, nil
	}

	wasm := filepath.Join(outDir, rcp.Compiler.WasmOutput())
	if b.Verify {
		if s.Missing, err = verifyModule(ctx, wasm, srcDir, rcp.Wrapper.Manifest); err != nil {
			return s, err
		}
	}

	log.Printf("[INFO] post-processing build and copying to %s", distDir)
	s.Artifacts, err = packager.Package(packager.Request{
		Wasm:     wasm,
		Glue:     glue,
		Prologue: filepath.Join(srcDir, rcp.Wrapper.Prologue),
		Epilogue: filepath.Join(srcDir, rcp.Wrapper.Epilogue),
		DistDir:  distDir,
	})
	if err != nil {
		return s, fmt.Errorf("can't package: %w", err)
	}
	return s, nil
}

// verifyModule checks the linked wasm and returns manifest functions it doesn't export
func verifyModule(ctx context.Context, wasm, srcDir, manifest string) ([]string, error) {
	if manifest != "" {
		manifest = filepath.Join(srcDir, manifest)
	}
	rep, err := verify.Module(ctx, wasm, manifest)
	if err != nil {
		return nil, err
	}
	for _, m := range rep.Missing {
		log.Printf("[WARN] function %s is in the manifest but not exported by the module", m)
	}
	log.Printf("[INFO] verified wasm module, %d exports", len(rep.Exports))
	return rep.Missing, nil
}
