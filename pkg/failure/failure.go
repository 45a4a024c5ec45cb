// Package failure defines typed build failures. Every error surfaced by fetch, extraction,
// compiler invocation and packaging is wrapped into Error with a Kind, so callers can tell
// a network hiccup from a broken archive or a compiler crash.
package failure

import (
	"errors"
	"fmt"

	"github.com/orsinium-labs/enum"
)

// Kind is a class of build failure.
type Kind enum.Member[string]

// supported failure kinds
var (
	KindUnknown    = Kind{Value: "unknown"}
	KindNetwork    = Kind{Value: "network"}
	KindArchive    = Kind{Value: "archive"}
	KindProcess    = Kind{Value: "process"}
	KindFilesystem = Kind{Value: "filesystem"}
	KindConfig     = Kind{Value: "config"}

	Kinds = enum.New(KindNetwork, KindArchive, KindProcess, KindFilesystem, KindConfig)
)

func (k Kind) String() string { return k.Value }

// Error is a build failure with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap makes a typed failure. Returns nil for nil err, keeps the innermost kind if err is already typed.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Network wraps err as a network failure
func Network(op string, err error) error { return Wrap(KindNetwork, op, err) }

// Archive wraps err as an archive failure
func Archive(op string, err error) error { return Wrap(KindArchive, op, err) }

// Process wraps err as an external process failure
func Process(op string, err error) error { return Wrap(KindProcess, op, err) }

// Filesystem wraps err as a filesystem failure
func Filesystem(op string, err error) error { return Wrap(KindFilesystem, op, err) }

// Config wraps err as a configuration failure
func Config(op string, err error) error { return Wrap(KindConfig, op, err) }

// KindOf returns the kind of the first typed failure in err's chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Retryable reports whether a failure of this kind may succeed on a plain re-run.
// Only transport problems qualify; nothing retries today, the value is reported to the operator.
func Retryable(kind Kind) bool {
	return kind == KindNetwork
}
