package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunWorstStatusWins(t *testing.T) {
	c := NewChecker(0)
	c.Register("corpus", PingCheck(func(context.Context) error { return nil }))
	c.Register("index", DegradedUnless(func() bool { return false }, "no key built"))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusUp, report.Components["corpus"].Status)
	assert.Equal(t, "no key built", report.Components["index"].Message)

	c.Register("corpus", PingCheck(func(context.Context) error { return errors.New("not loaded") }))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "not loaded", report.Components["corpus"].Message)
}

func TestOptionalChecksOnlyDegrade(t *testing.T) {
	c := NewChecker(0)
	c.Register("corpus", PingCheck(func(context.Context) error { return nil }))
	c.RegisterOptional("postgres", PingCheck(func(context.Context) error { return errors.New("refused") }))

	report := c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, StatusDown, report.Components["postgres"].Status)
	assert.True(t, report.Components["postgres"].Optional)
}

func TestSlowCheckTimesOut(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Register("cache", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ComponentHealth{Status: StatusUp}
	})

	report := c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "check timed out", report.Components["cache"].Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(0)
	c.Register("corpus", PingCheck(func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Register("index", DegradedUnless(func() bool { return false }, "warming"))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "warming")

	c.Register("corpus", PingCheck(func(context.Context) error { return errors.New("not loaded") }))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLiveHandler(t *testing.T) {
	c := NewChecker(0)
	rec := httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"uptime"`)
}
