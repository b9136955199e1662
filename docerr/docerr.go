// Package docerr defines the typed error taxonomy shared by every docextract
// package, plus the fault boundary that turns plugin panics into errors.
//
// Every public entry point returns either nil or an error that unwraps to
// *Error, so callers can branch on the kind:
//
//	if errors.Is(err, docerr.ErrNotFound) { ... }
//
//	var de *docerr.Error
//	if errors.As(err, &de) { log.Println(de.Code(), de.Stage) }
package docerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an error. The numeric value is the stable error code
// exposed to foreign callers.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindParsing
	KindExecution
	KindMissingDependency
	KindPlugin
	KindNotFound
	KindInternal
	KindConfig
)

var kindNames = map[Kind]string{
	KindValidation:        "validation",
	KindParsing:           "parsing",
	KindExecution:         "execution",
	KindMissingDependency: "missing_dependency",
	KindPlugin:            "plugin",
	KindNotFound:          "not_found",
	KindInternal:          "internal",
	KindConfig:            "config",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Code returns the numeric error code.
func (k Kind) Code() int { return int(k) }

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Message string
	// Stage names the pipeline stage or plugin that failed, if any.
	Stage string
	// Context carries diagnostic key/values (mime, extractor, request id...).
	Context map[string]string
	Cause   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Stage != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Stage)
		sb.WriteByte(']')
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error of the same kind. This is what makes
// errors.Is(err, ErrNotFound) work for any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the numeric error code of the error kind.
func (e *Error) Code() int { return e.Kind.Code() }

// WithContext returns e after setting a diagnostic key.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithStage returns e after setting the failing stage name.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// ContextString renders Context as sorted "k=v" pairs.
func (e *Error) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + e.Context[k]
	}
	return strings.Join(parts, " ")
}

// Sentinels for errors.Is. They carry no message; only the kind matters.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrParsing           = &Error{Kind: KindParsing}
	ErrExecution         = &Error{Kind: KindExecution}
	ErrMissingDependency = &Error{Kind: KindMissingDependency}
	ErrPlugin            = &Error{Kind: KindPlugin}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInternal          = &Error{Kind: KindInternal}
	ErrConfig            = &Error{Kind: KindConfig}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation reports bad input, bad config values or a failed Validator.
func Validation(format string, args ...any) *Error { return newf(KindValidation, format, args...) }

// Parsing reports a format decode failure.
func Parsing(format string, args ...any) *Error { return newf(KindParsing, format, args...) }

// Execution reports an extractor or OCR runtime failure.
func Execution(format string, args ...any) *Error { return newf(KindExecution, format, args...) }

// MissingDependency reports an optional feature invoked without its backing
// tool or service.
func MissingDependency(format string, args ...any) *Error {
	return newf(KindMissingDependency, format, args...)
}

// Plugin reports a registration conflict or plugin contract violation.
func Plugin(format string, args ...any) *Error { return newf(KindPlugin, format, args...) }

// NotFound reports a missing extractor, backend or resource.
func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }

// Internal reports an unexpected fault. Always a bug.
func Internal(format string, args ...any) *Error { return newf(KindInternal, format, args...) }

// Config reports malformed or contradictory configuration.
func Config(format string, args ...any) *Error { return newf(KindConfig, format, args...) }

// Wrap attaches cause to a new error of the given kind.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	e := newf(kind, format, args...)
	e.Cause = cause
	return e
}

// KindOf returns the kind of err, or 0 when err is not a *Error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

// Ensure returns err as a *Error. Foreign errors are wrapped with the
// fallback kind so the typed contract holds at public boundaries.
func Ensure(err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: fallback, Message: err.Error(), Cause: err}
}
