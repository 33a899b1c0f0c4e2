package cate

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error is the error type returned by every client operation. Type classifies
// the failure; Endpoint, StatusCode and Body are set when the failure came
// from a server response.
type Error struct {
	Type       ErrorType
	Message    string
	Base       error
	Endpoint   string
	StatusCode int
	Body       string
}

func (e Error) Error() string {
	return "cate: " + e.text()
}

// text is the message without the package prefix, so nested errors read as
// one sentence
func (e Error) text() string {
	base := ""
	if e.Base != nil {
		var inner Error
		if errors.As(e.Base, &inner) {
			base = inner.text()
		} else {
			base = e.Base.Error()
		}
	}
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: /%s returned HTTP %d: %s", e.Message, e.Endpoint, e.StatusCode, e.Body)
	case e.Message != "" && base != "":
		return e.Message + ": " + base
	case e.Message != "":
		return e.Message
	case base != "":
		return base
	}
	return e.Type.String()
}

func (e Error) Unwrap() error { return e.Base }

// Is reports whether target is the ErrorType of e, so callers can write
// errors.Is(err, cate.ErrNoData).
func (e Error) Is(target error) bool {
	t, ok := target.(ErrorType)
	return ok && t == e.Type
}

// ErrorType classifies an Error. ErrorType values are themselves errors so
// they can be used as errors.Is targets.
type ErrorType byte

const (
	ErrUnknown ErrorType = iota
	// ErrAuthentication means the credentials were rejected or no token is
	// held for the session at call time.
	ErrAuthentication
	// ErrUpstream is a non-success response from a metadata endpoint.
	ErrUpstream
	// ErrSegmentFetch is a failure downloading a segment payload.
	ErrSegmentFetch
	// ErrNoData means the server found no segments covering a query.
	ErrNoData
	// ErrSegmentDecode means a payload does not match its declared shape or
	// type.
	ErrSegmentDecode
	ErrUnsupportedDtype
	ErrInconsistentPlan
	ErrInvalidQuery
)

var errorTypeNames = map[ErrorType]string{
	ErrUnknown:          "unknown error",
	ErrAuthentication:   "authentication error",
	ErrUpstream:         "upstream error",
	ErrSegmentFetch:     "segment fetch error",
	ErrNoData:           "no data",
	ErrSegmentDecode:    "segment decode error",
	ErrUnsupportedDtype: "unsupported dtype",
	ErrInconsistentPlan: "inconsistent segment plan",
	ErrInvalidQuery:     "invalid query",
}

func (t ErrorType) String() string {
	if s, ok := errorTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ErrorType(%d)", byte(t))
}

func (t ErrorType) Error() string { return t.String() }

// IsType reports whether any error in err's chain is an Error of type t.
func IsType(err error, t ErrorType) bool {
	var e Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

func newSimpleError(t ErrorType, msg string) error {
	return Error{Type: t, Message: msg}
}

func newSimpleErrorf(t ErrorType, format string, args ...interface{}) error {
	return Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

func newDerivedError(t ErrorType, msg string, base error) error {
	return Error{Type: t, Message: msg, Base: base}
}

func newStatusError(t ErrorType, msg, endpoint string, status int, body string) error {
	return Error{Type: t, Message: msg, Endpoint: endpoint, StatusCode: status, Body: body}
}

// asType keeps err if it is already an Error and otherwise classifies it as t.
func asType(t ErrorType, msg string, err error) error {
	var e Error
	if errors.As(err, &e) {
		return err
	}
	return newDerivedError(t, msg, err)
}
