// Package fetch downloads remote sources. Every request is a single attempt, failures are typed as
// network failures and returned to the caller, which aborts the run.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/umputun/sqlwasm/pkg/failure"
)

// Fetcher gets remote files over http(s)
type Fetcher struct {
	client   *http.Client
	progress bool
	out      io.Writer
}

// Opts defines fetcher options
type Opts struct {
	Timeout  time.Duration // zero means no timeout
	Progress bool          // show download progress bars
	Out      io.Writer     // progress output, os.Stderr by default
}

// New makes a Fetcher
func New(opts Opts) *Fetcher {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	return &Fetcher{client: &http.Client{Timeout: opts.Timeout}, progress: opts.Progress, out: out}
}

// Bytes downloads url into memory
func (f *Fetcher) Bytes(ctx context.Context, url string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := f.Stream(ctx, url, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Stream downloads url into w and returns the number of bytes written
func (f *Fetcher) Stream(ctx context.Context, url string, w io.Writer) (int64, error) {
	st := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, failure.Network("make request", fmt.Errorf("can't make request for %s: %w", url, err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, failure.Network("get", fmt.Errorf("can't get %s: %w", url, err))
	}
	defer resp.Body.Close() // nolint

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, failure.Network("get", &StatusError{URL: url, Code: resp.StatusCode})
	}

	sink := &sinkWriter{w: w}
	var dst io.Writer = sink
	if f.progress {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(f.out),
			progressbar.OptionSetDescription("downloading "+path.Base(req.URL.Path)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() { fmt.Fprint(f.out, "\n") }),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
		)
		defer bar.Close() // nolint
		dst = io.MultiWriter(sink, bar)
	}

	n, err := io.Copy(dst, resp.Body)
	if sink.err != nil {
		return n, failure.Filesystem("write body", fmt.Errorf("can't write %s: %w", url, sink.err))
	}
	if err != nil {
		return n, failure.Network("read body", fmt.Errorf("can't read %s: %w", url, err))
	}
	log.Printf("[DEBUG] downloaded %s, %d bytes in %v", url, n, time.Since(st).Truncate(time.Millisecond))
	return n, nil
}

// File downloads url into a new file. The file must not exist, its directory must.
func (f *Fetcher) File(ctx context.Context, url, fname string) error {
	fh, err := os.OpenFile(fname, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644) // nolint
	if err != nil {
		return failure.Filesystem("create file", err)
	}
	if _, err = f.Stream(ctx, url, fh); err != nil {
		_ = fh.Close()
		return err
	}
	if err = fh.Close(); err != nil {
		return failure.Filesystem("close file", err)
	}
	return nil
}

// sinkWriter keeps the destination's own write error apart from body read errors
type sinkWriter struct {
	w   io.Writer
	err error
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		s.err = err
	}
	return n, err
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s for %s", e.Code, http.StatusText(e.Code), e.URL)
}
