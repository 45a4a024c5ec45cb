// Package amalgam appends single-file sqlite extensions to the amalgamation and closes it with the
// generated SQLITE_EXTRA_INIT function registering all of them. Extension sources are appended in the
// configured order, the init function goes last as it references symbols they define.
package amalgam

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-pkgz/syncs"

	"github.com/umputun/sqlwasm/pkg/config"
	"github.com/umputun/sqlwasm/pkg/failure"
)

// Fetcher downloads remote sources
type Fetcher interface {
	Stream(ctx context.Context, url string, w io.Writer) (int64, error)
}

// Assembler appends extensions to the amalgamation
type Assembler struct {
	Fetcher     Fetcher
	Concurrency int // parallel downloads, sequential streaming if 1 or less
}

// Append adds every recipe extension source, each preceded by a newline, and then the recipe init
// function to the existing amalgamation file.
func (a *Assembler) Append(ctx context.Context, amalgamation string, rcp config.Recipe) error {
	exts := rcp.Extensions
	initSrc, err := RenderInit(rcp.InitFunction, rcp.InitFunctions())
	if err != nil {
		return failure.Config("render init", err)
	}

	var prefetched [][]byte
	if a.Concurrency > 1 && len(exts) > 1 {
		if prefetched, err = a.prefetch(ctx, exts); err != nil {
			return err
		}
	}

	fh, err := os.OpenFile(amalgamation, os.O_WRONLY|os.O_APPEND, 0) // nolint
	if err != nil {
		return failure.Filesystem("open amalgamation", err)
	}
	defer fh.Close() // nolint

	for i, e := range exts {
		log.Printf("[INFO] appending to amalgamation %s", e.URL)
		if _, err = fh.Write([]byte("\n")); err != nil {
			return failure.Filesystem("append amalgamation", err)
		}
		if prefetched != nil {
			if _, err = fh.Write(prefetched[i]); err != nil {
				return failure.Filesystem("append amalgamation", err)
			}
			continue
		}
		if _, err = a.Fetcher.Stream(ctx, e.URL, fh); err != nil {
			return fmt.Errorf("can't append extension %s: %w", e.Init, err)
		}
	}

	log.Printf("[INFO] appending %s to amalgamation, %d extensions", rcp.InitFunction, len(exts))
	if _, err = io.WriteString(fh, initSrc); err != nil {
		return failure.Filesystem("append amalgamation", err)
	}
	if err = fh.Close(); err != nil {
		return failure.Filesystem("close amalgamation", err)
	}
	return nil
}

// prefetch downloads all extension sources in parallel, results are kept in configured order.
// The first real failure in configured order is returned, the rest of downloads are canceled.
func (a *Assembler) prefetch(ctx context.Context, exts []config.Extension) ([][]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := make([][]byte, len(exts))
	errs := make([]error, len(exts))
	wg := syncs.NewErrSizedGroup(a.Concurrency, syncs.Context(ctx), syncs.Preemptive)
	for i, e := range exts {
		wg.Go(func() error {
			var buf bytes.Buffer
			if _, err := a.Fetcher.Stream(ctx, e.URL, &buf); err != nil {
				errs[i] = fmt.Errorf("can't fetch extension %s: %w", e.Init, err)
				cancel()
				return errs[i]
			}
			res[i] = buf.Bytes()
			return nil
		})
	}
	werr := wg.Wait() // errors are collected per extension to keep them typed
	var canceled error
	for _, err := range errs {
		if err != nil && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		if err != nil && canceled == nil {
			canceled = err
		}
	}
	if canceled != nil {
		return nil, canceled
	}
	if werr != nil { // group refused to start some downloads, i.e. ctx canceled by the caller
		return nil, failure.Network("fetch extensions", werr)
	}
	return res, nil
}
