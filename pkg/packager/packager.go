// Package packager places build artifacts into the dist directory. The wasm binary is moved as is,
// the js wrapper is the exact concatenation of the prologue, the generated glue and the epilogue.
package packager

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"syscall"

	"github.com/go-pkgz/fileutils"

	"github.com/umputun/sqlwasm/pkg/failure"
)

// Artifact is a file placed into dist
type Artifact struct {
	Path   string
	Size   int64
	SHA256 string
}

// Request defines what to package
type Request struct {
	Wasm     string // wasm binary produced by the link
	Glue     string // js glue produced by the link
	Prologue string // fragment written before the glue
	Epilogue string // fragment written after the glue
	DistDir  string // existing directory for the artifacts
}

// Package moves the wasm binary and writes the wrapped js into DistDir, keeping their base names.
// Existing artifacts are never overwritten.
func Package(req Request) ([]Artifact, error) {
	wasmDst := filepath.Join(req.DistDir, filepath.Base(req.Wasm))
	if err := move(req.Wasm, wasmDst); err != nil {
		return nil, err
	}

	jsDst := filepath.Join(req.DistDir, filepath.Base(req.Glue))
	if err := Wrap(jsDst, req.Prologue, req.Glue, req.Epilogue); err != nil {
		return nil, err
	}

	res := make([]Artifact, 0, 2)
	for _, fname := range []string{wasmDst, jsDst} {
		a, err := describe(fname)
		if err != nil {
			return nil, err
		}
		log.Printf("[INFO] artifact %s, %d bytes, sha256:%s", a.Path, a.Size, a.SHA256)
		res = append(res, a)
	}
	return res, nil
}

// Wrap writes dst as the byte concatenation of parts, in the given order. dst must not exist.
func Wrap(dst string, parts ...string) error {
	fh, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // nolint
	if err != nil {
		return failure.Filesystem("create wrapper", err)
	}
	for _, p := range parts {
		if err = appendFile(fh, p); err != nil {
			_ = fh.Close()
			return err
		}
	}
	if err = fh.Close(); err != nil {
		return failure.Filesystem("close wrapper", err)
	}
	return nil
}

func appendFile(w io.Writer, fname string) error {
	fh, err := os.Open(fname) // nolint
	if err != nil {
		return failure.Filesystem("open wrapper part", err)
	}
	defer fh.Close() // nolint
	if _, err = io.Copy(w, fh); err != nil {
		return failure.Filesystem("write wrapper", fmt.Errorf("can't append %s: %w", fname, err))
	}
	return nil
}

// move renames src to dst, falls back to copy and remove if they are on different devices
func move(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return failure.Filesystem("move artifact", fmt.Errorf("%s: %w", dst, os.ErrExist))
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return failure.Filesystem("move artifact", err)
	}
	log.Printf("[DEBUG] %s and %s are on different devices, copy instead of rename", src, dst)
	if err = fileutils.CopyFile(src, dst); err != nil {
		return failure.Filesystem("copy artifact", err)
	}
	if err = os.Remove(src); err != nil {
		return failure.Filesystem("remove artifact", err)
	}
	return nil
}

func describe(fname string) (Artifact, error) {
	fh, err := os.Open(fname) // nolint
	if err != nil {
		return Artifact{}, failure.Filesystem("open artifact", err)
	}
	defer fh.Close() // nolint
	h := sha256.New()
	n, err := io.Copy(h, fh)
	if err != nil {
		return Artifact{}, failure.Filesystem("read artifact", err)
	}
	return Artifact{Path: fname, Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}
