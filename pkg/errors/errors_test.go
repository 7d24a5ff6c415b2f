package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrInternal, http.StatusTeapot, "x"), http.StatusTeapot},
		{"unknown key", fmt.Errorf("query: %w", ErrUnknownThresholdKey), http.StatusNotFound},
		{"bad filter", fmt.Errorf("filter: %w", ErrInvalidFilter), http.StatusBadRequest},
		{"unknown attribute", ErrUnknownAttribute, http.StatusBadRequest},
		{"not loaded", ErrCorpusNotLoaded, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestRecordErrorUnwrapsToMalformed(t *testing.T) {
	err := fmt.Errorf("loading labels: %w", &RecordError{File: "a.txt", Line: 3, Reason: "want 7 fields, got 5"})
	assert.ErrorIs(t, err, ErrMalformedRecord)
	assert.Contains(t, err.Error(), "a.txt:3")

	var rec *RecordError
	assert.True(t, errors.As(err, &rec))
	assert.Equal(t, 3, rec.Line)
}

func TestAppErrorMessage(t *testing.T) {
	err := Newf(ErrUnknownThresholdKey, http.StatusNotFound, "iou=%.2f", 0.3)
	assert.Equal(t, "unknown threshold key: iou=0.30", err.Error())
	assert.ErrorIs(t, err, ErrUnknownThresholdKey)
}
