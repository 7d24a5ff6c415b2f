package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedRecord     = errors.New("malformed record")
	ErrUnknownThresholdKey = errors.New("unknown threshold key")
	ErrUnknownAttribute    = errors.New("unknown attribute")
	ErrInvalidFilter       = errors.New("invalid filter")
	ErrPairNotFound        = errors.New("pair not found")
	ErrCorpusNotLoaded     = errors.New("corpus not loaded")
	ErrCacheMiss           = errors.New("cache miss")
	ErrCorruptEntry        = errors.New("corrupt cache entry")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInternal            = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// RecordError reports a raw corpus row that failed shape validation.
type RecordError struct {
	File   string
	Line   int
	Reason string
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return ErrMalformedRecord
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrPairNotFound), errors.Is(err, ErrUnknownThresholdKey):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidFilter), errors.Is(err, ErrUnknownAttribute):
		return http.StatusBadRequest
	case errors.Is(err, ErrCorpusNotLoaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
