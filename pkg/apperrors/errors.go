// Package apperrors defines the error kinds surfaced by ptbhub services.
//
// Services return *Error values (or wrap them); the HTTP layer maps the Kind
// to a status code and the machine Code to the "code" field of the error body.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies an error for propagation and HTTP mapping
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindConflict
	KindNotFound
	KindUpstream
	KindTransport
	KindSharingViolation
	KindInfrastructure
	KindFatal
)

var kindNames = map[Kind]string{
	KindUnknown:          "unknown",
	KindAuthentication:   "authentication",
	KindAuthorization:    "authorization",
	KindValidation:       "validation",
	KindConflict:         "conflict",
	KindNotFound:         "not_found",
	KindUpstream:         "upstream",
	KindTransport:        "transport",
	KindSharingViolation: "sharing_violation",
	KindInfrastructure:   "infrastructure",
	KindFatal:            "fatal",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// HTTPStatus returns the status code a handler responds with for this kind
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication, KindUpstream:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransport, KindSharingViolation:
		return http.StatusBadGateway
	case KindInfrastructure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Machine codes carried in error bodies
const (
	CodeNotAuthenticated    = "not_authenticated"
	CodeAuthFailed          = "authentication_failed"
	CodeInvalidRefreshToken = "invalid_refresh_token"
	CodeNoRefreshToken      = "no_refresh_token"
	CodeTokenExpired        = "token_expired"
	CodeUserInactive        = "user_inactive"
	CodePermissionDenied    = "permission_denied"
	CodeInvalid             = "invalid"
	CodeDuplicate           = "duplicate"
	CodeNotFound            = "not_found"
	CodeFileInUse           = "file_in_use"
	CodeRateLimited         = "throttled"
)

// Error is a classified application error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields holds per-field validation messages
	Fields map[string][]string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
		}
		msg += " (" + strings.Join(parts, ", ") + ")"
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and, when set on the target, by code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Sentinels for errors.Is matching by kind
var (
	ErrAuthentication   = &Error{Kind: KindAuthentication}
	ErrAuthorization    = &Error{Kind: KindAuthorization}
	ErrValidation       = &Error{Kind: KindValidation}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrSharingViolation = &Error{Kind: KindSharingViolation}
)

// New builds an error of the given kind
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, code string, err error, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Authentication returns an authentication failure with a machine code
func Authentication(code, message string) *Error {
	return New(KindAuthentication, code, message)
}

// PermissionDenied returns an authorization failure
func PermissionDenied(message string) *Error {
	if message == "" {
		message = "You do not have permission to perform this action."
	}
	return New(KindAuthorization, CodePermissionDenied, message)
}

// NotFound returns a not-found error for the named entity
func NotFound(entity string, id interface{}) *Error {
	return New(KindNotFound, CodeNotFound, fmt.Sprintf("%s %v not found", entity, id))
}

// Conflict returns a duplicate/concurrent write error
func Conflict(message string) *Error {
	return New(KindConflict, CodeDuplicate, message)
}

// Invalid returns a non-field validation error
func Invalid(message string) *Error {
	return New(KindValidation, CodeInvalid, message)
}

// FieldError returns a validation error for a single field
func FieldError(field, message string) *Error {
	v := &Validation{}
	v.Add(field, message)
	return v.Err()
}

// KindOf reports the kind of err, KindUnknown for unclassified errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// As extracts the *Error from err
func As(err error) (*Error, bool) {
	var appErr *Error
	ok := errors.As(err, &appErr)
	return appErr, ok
}
