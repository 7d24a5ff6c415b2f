// Package stage memoizes the expensive build stages of an evaluation corpus
// (parsed corpus, pair tables, directions, derived attributes) in a
// persistent key-value store so restarts skip recomputation.
package stage

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
)

// Stage names one cached build product.
type Stage string

const (
	Corpus     Stage = "corpus"
	Pairs      Stage = "pairs"
	Directions Stage = "directions"
	Attributes Stage = "attributes"
	Features   Stage = "features"
)

// Key identifies one cached stage output. Version is the corpus fingerprint
// the output was derived from and Threshold the threshold key string; both
// are empty for stages that do not depend on them.
type Key struct {
	Dataset   string
	Version   string
	Threshold string
	Stage     Stage
}

var keyEscaper = strings.NewReplacer("/", "_", "=", "", ",", "_", " ", "_", ":", "_")

// String renders the key as dataset/stage[/version][/threshold] with path
// separators escaped inside each segment.
func (k Key) String() string {
	parts := []string{keyEscaper.Replace(k.Dataset), string(k.Stage)}
	if k.Version != "" {
		parts = append(parts, keyEscaper.Replace(k.Version))
	}
	if k.Threshold != "" {
		parts = append(parts, keyEscaper.Replace(k.Threshold))
	}
	return strings.Join(parts, "/")
}

func (k Key) validate() error {
	if k.Dataset == "" || k.Stage == "" {
		return fmt.Errorf("%w: stage key needs a dataset and a stage, got %+v", apperrors.ErrInvalidInput, k)
	}
	return nil
}

// Store is a byte-oriented persistent cache. Get returns ErrCacheMiss when
// the key is absent. Invalidate drops every entry of a dataset.
type Store interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Put(ctx context.Context, key Key, value []byte) error
	Invalidate(ctx context.Context, dataset string) error
	Close() error
}
