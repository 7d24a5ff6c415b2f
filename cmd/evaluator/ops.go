package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/analysis/store"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/events"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/matching"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/internal/rangeindex"
	apperrors "github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Detection-Error-Analytics-Platform/pkg/logger"
)

type keyRegistry interface {
	Keys() []matching.ThresholdKey
	Resident() []matching.ThresholdKey
	Corpus() (*corpus.Corpus, error)
	Reload(ctx context.Context) error
}

type sliceMiner interface {
	Slices(ctx context.Context, key matching.ThresholdKey, f rangeindex.Filter) (*analysis.SliceReport, error)
}

type reportStore interface {
	Save(ctx context.Context, dataset, version string, report analysis.SliceReport) (store.Run, error)
	Latest(ctx context.Context, dataset string, iou, conf float64) (*store.Run, error)
}

// opsHandler serves the admin endpoints. reports and publisher are optional.
type opsHandler struct {
	registry   keyRegistry
	analyzer   sliceMiner
	reports    reportStore
	publisher  kafka.Publisher
	dataset    string
	defaultKey matching.ThresholdKey
}

type keysResponse struct {
	Dataset  string                  `json:"dataset"`
	Version  string                  `json:"version,omitempty"`
	Default  matching.ThresholdKey   `json:"default"`
	Keys     []matching.ThresholdKey `json:"keys"`
	Resident []matching.ThresholdKey `json:"resident"`
}

func (h *opsHandler) Keys(w http.ResponseWriter, r *http.Request) {
	resp := keysResponse{
		Dataset:  h.dataset,
		Default:  h.defaultKey,
		Keys:     h.registry.Keys(),
		Resident: h.registry.Resident(),
	}
	if c, err := h.registry.Corpus(); err == nil {
		resp.Version = c.Fingerprint()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reload swaps in the current corpus. With a publisher attached the change
// is also announced so other replicas follow; the local reload then happens
// through the consumer like everywhere else.
func (h *opsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	reason := r.URL.Query().Get("reason")
	if h.publisher != nil {
		event, err := events.PublishCorpusChanged(r.Context(), h.publisher, h.dataset, reason)
		if err != nil {
			fail(w, r, apperrors.New(err, http.StatusBadGateway, "could not announce corpus change"))
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "announced", "event_id": event.EventID})
		return
	}
	if err := h.registry.Reload(r.Context()); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// MineSlices runs slice mining for the requested key. The optional body is a
// filter in wire form.
func (h *opsHandler) MineSlices(w http.ResponseWriter, r *http.Request) {
	key, err := h.key(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	f := rangeindex.NewFilter()
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		fail(w, r, apperrors.Newf(apperrors.ErrInvalidFilter, http.StatusBadRequest, "body: %v", err))
		return
	}

	report, err := h.analyzer.Slices(r.Context(), key, f)
	if err != nil {
		fail(w, r, err)
		return
	}
	if h.reports == nil {
		writeJSON(w, http.StatusOK, report)
		return
	}

	version := ""
	if c, err := h.registry.Corpus(); err == nil {
		version = c.Fingerprint()
	}
	run, err := h.reports.Save(r.Context(), h.dataset, version, *report)
	if err != nil {
		logger.FromContext(r.Context()).Error("slice report not persisted", "key", key.String(), "error", err)
		writeJSON(w, http.StatusOK, report)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (h *opsHandler) LatestSlices(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		fail(w, r, apperrors.New(apperrors.ErrInternal, http.StatusServiceUnavailable, "slice persistence is disabled"))
		return
	}
	key, err := h.key(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	run, err := h.reports.Latest(r.Context(), h.dataset, key.IoU, key.Conf)
	if err != nil {
		fail(w, r, err)
		return
	}
	if run == nil {
		fail(w, r, apperrors.Newf(apperrors.ErrPairNotFound, http.StatusNotFound, "no slice report for %s", key))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// key reads iou and conf query parameters, each defaulting to the default
// key's value.
func (h *opsHandler) key(r *http.Request) (matching.ThresholdKey, error) {
	key := h.defaultKey
	q := r.URL.Query()
	if v := q.Get("iou"); v != "" {
		iou, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return matching.ThresholdKey{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "iou %q is not a number", v)
		}
		key.IoU = iou
	}
	if v := q.Get("conf"); v != "" {
		conf, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return matching.ThresholdKey{}, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "conf %q is not a number", v)
		}
		key.Conf = conf
	}
	return key, nil
}

// fail writes err with the status it maps to. Server-side failures are
// logged with the request id; client errors are not.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("admin request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
