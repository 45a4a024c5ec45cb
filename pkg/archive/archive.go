// Package archive reads zip and tar.gz archives fully loaded in memory and extracts a filtered subset
// of their members. Archives are expected to have a single root directory listed first, as produced by
// GitHub, sqlite.org and lua.org, and this root is stripped from member names.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-pkgz/stringutils"

	"github.com/umputun/sqlwasm/pkg/failure"
)

// ErrMalformed is returned for archives without a leading root directory
var ErrMalformed = errors.New("malformed archive")

// Format is an archive format
type Format string

// supported formats
const (
	FormatZip   Format = "zip"
	FormatTarGz Format = "tar.gz"
)

// Archive is an opened archive with the root directory stripped from member names
type Archive struct {
	Format  Format
	Root    string // root directory, with trailing slash
	members []member
}

// member is a single archive entry, name is relative to the root
type member struct {
	name string
	dir  bool
	open func() (io.ReadCloser, error)
}

// Selector picks archive members to extract
type Selector struct {
	Subdir  string   // direct children of this directory are selected, root if empty
	Stems   []string // allowed base names without extension, everything if empty
	Exclude []string // base names to skip
}

// Open detects the format of data and reads the archive index
func Open(data []byte) (*Archive, error) {
	switch {
	case bytes.HasPrefix(data, []byte("PK\x03\x04")), bytes.HasPrefix(data, []byte("PK\x05\x06")):
		return openZip(data)
	case bytes.HasPrefix(data, []byte{0x1f, 0x8b}):
		return openTarGz(data)
	}
	return nil, failure.Archive("open archive", fmt.Errorf("unknown archive format"))
}

func openZip(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, failure.Archive("open zip", err)
	}
	entries := make([]member, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, member{name: f.Name, dir: f.FileInfo().IsDir(), open: f.Open})
	}
	return newArchive(FormatZip, entries)
}

func openTarGz(data []byte) (*Archive, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, failure.Archive("open gzip", err)
	}
	defer gz.Close() // nolint

	entries := []member{}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, failure.Archive("read tar", err)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			entries = append(entries, member{name: hdr.Name, dir: true})
		case tar.TypeReg:
			body, err := io.ReadAll(tr)
			if err != nil {
				return nil, failure.Archive("read tar", fmt.Errorf("can't read %s: %w", hdr.Name, err))
			}
			entries = append(entries, member{name: hdr.Name, open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}})
		default: // links, pax headers and such are not sources
			continue
		}
	}
	return newArchive(FormatTarGz, entries)
}

// newArchive checks the first entry is the root directory and strips it from all the names
func newArchive(format Format, entries []member) (*Archive, error) {
	if len(entries) == 0 {
		return nil, failure.Archive("open "+string(format), fmt.Errorf("%w: empty archive", ErrMalformed))
	}
	root := entries[0]
	if !root.dir {
		return nil, failure.Archive("open "+string(format),
			fmt.Errorf("%w: first entry %q is not a directory", ErrMalformed, root.name))
	}
	rootName := strings.TrimSuffix(root.name, "/") + "/"

	res := &Archive{Format: format, Root: rootName}
	for _, e := range entries[1:] {
		if !strings.HasPrefix(e.name, rootName) {
			return nil, failure.Archive("open "+string(format),
				fmt.Errorf("%w: entry %q is outside of root %q", ErrMalformed, e.name, rootName))
		}
		rel := path.Clean(strings.TrimPrefix(e.name, rootName))
		if rel == "." || strings.HasPrefix(rel, "../") || rel == ".." {
			continue
		}
		res.members = append(res.members, member{name: rel, dir: e.dir, open: e.open})
	}
	return res, nil
}

// Select returns names of members matching the selector, in archive order
func (a *Archive) Select(sel Selector) []string {
	subdir := path.Clean(sel.Subdir)
	if sel.Subdir == "" {
		subdir = "."
	}
	res := []string{}
	for _, m := range a.members {
		if m.dir || path.Dir(m.name) != subdir {
			continue
		}
		base := path.Base(m.name)
		if stringutils.Contains(base, sel.Exclude) {
			continue
		}
		if len(sel.Stems) > 0 && !stringutils.Contains(strings.TrimSuffix(base, path.Ext(base)), sel.Stems) {
			continue
		}
		res = append(res, m.name)
	}
	return res
}

// Extract writes members matching the selector into dstDir, flat, under their base names.
// dstDir must exist and files must not. Returns extracted names relative to the archive root.
// Nothing is cleaned up on failure.
func (a *Archive) Extract(dstDir string, sel Selector) ([]string, error) {
	selected := a.Select(sel)
	byName := make(map[string]member, len(a.members))
	for _, m := range a.members {
		byName[m.name] = m
	}
	for _, name := range selected {
		if err := writeMember(byName[name], filepath.Join(dstDir, path.Base(name))); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

func writeMember(m member, dst string) error {
	rd, err := m.open()
	if err != nil {
		return failure.Archive("open member", fmt.Errorf("can't open %s: %w", m.name, err))
	}
	defer rd.Close() // nolint

	fh, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // nolint
	if err != nil {
		return failure.Filesystem("create file", err)
	}
	if _, err = io.Copy(fh, rd); err != nil {
		_ = fh.Close()
		return failure.Archive("extract member", fmt.Errorf("can't extract %s: %w", m.name, err))
	}
	if err = fh.Close(); err != nil {
		return failure.Filesystem("close file", err)
	}
	return nil
}

var objRe = regexp.MustCompile(`(\w+)\.o\b`)

// Stems makes a set of allowed base names from a makefile object listing like "lapi.o lcode.o"
// plus extra names, usually header-only files with no object of their own.
func Stems(objects string, extra ...string) []string {
	res := []string{}
	for _, m := range objRe.FindAllStringSubmatch(objects, -1) {
		res = append(res, m[1])
	}
	res = append(res, extra...)
	return stringutils.DeDup(res)
}
