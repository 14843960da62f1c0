package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusResponse struct {
	Status string
	Checks map[string]string
}

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) statusResponse {
	t.Helper()
	var resp statusResponse
	err := jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "status":
			s, err := d.Str()
			resp.Status = s
			return err
		case "checks":
			resp.Checks = make(map[string]string)
			return d.ObjBytes(func(d *jx.Decoder, name []byte) error {
				msg, err := d.Str()
				resp.Checks[string(name)] = msg
				return err
			})
		default:
			return d.Skip()
		}
	})
	require.NoError(t, err)
	return resp
}

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func runN(c *check, n int) {
	for range n {
		c.run(context.Background())
	}
}

func serve(h http.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestLiveEndpoint(t *testing.T) {
	t.Run("AllPassing", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("goroutines", time.Second, passingCheck())

		w := serve(h.LiveEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	})
	t.Run("Failing", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("gc", time.Second, failingCheck("pause too long"))
		runN(h.liveness[0], 3)

		w := serve(h.LiveEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeStatus(t, w)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "pause too long", body.Checks["gc"])
	})
	t.Run("BelowThreshold", func(t *testing.T) {
		h := New()
		h.AddLivenessCheck("flaky", time.Second, failingCheck("temporary"))
		runN(h.liveness[0], 2)

		assert.Equal(t, http.StatusOK, serve(h.LiveEndpoint).Code)
	})
	t.Run("NoChecks", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, serve(New().LiveEndpoint).Code)
	})
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("ReadyAndPassing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passingCheck())
		h.SetReady(true)

		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", decodeStatus(t, w).Status)
	})
	t.Run("NotMarkedReady", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passingCheck())

		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, decodeStatus(t, w).Checks, "_readiness")
	})
	t.Run("Draining", func(t *testing.T) {
		h := New()
		h.SetReady(true)
		assert.Equal(t, http.StatusOK, serve(h.ReadyEndpoint).Code)
		h.SetReady(false)
		assert.Equal(t, http.StatusServiceUnavailable, serve(h.ReadyEndpoint).Code)
	})
	t.Run("OneRequiredFailing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, failingCheck("connection refused"))
		h.AddReadinessCheck("redis", time.Second, passingCheck())
		h.SetReady(true)
		runN(h.readiness[0], 3)

		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeStatus(t, w)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "connection refused", body.Checks["postgres"])
		assert.NotContains(t, body.Checks, "redis")
	})
	t.Run("OptionalFailingDegrades", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passingCheck())
		h.AddReadinessCheck("redis", time.Second, failingCheck("dial tcp: refused"), Optional())
		h.SetReady(true)
		runN(h.readiness[1], 3)

		w := serve(h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeStatus(t, w)
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "dial tcp: refused", body.Checks["redis"])
		assert.True(t, h.IsReady())
	})
}

func TestIsReady(t *testing.T) {
	h := New()
	h.AddReadinessCheck("postgres", time.Second, passingCheck())

	assert.False(t, h.IsReady())
	h.SetReady(true)
	assert.True(t, h.IsReady())
	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestThresholds(t *testing.T) {
	failing := true
	h := New()
	h.AddReadinessCheck("postgres", time.Second, func(context.Context) error {
		if failing {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(2, 2))
	c := h.readiness[0]

	assert.Nil(t, c.lastError())
	runN(c, 2)
	assert.False(t, c.isHealthy())
	assert.EqualError(t, c.lastError(), "down")

	failing = false
	runN(c, 1)
	assert.False(t, c.isHealthy(), "one success is below the success threshold")
	runN(c, 1)
	assert.True(t, c.isHealthy())
}

func TestStartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	h := New()
	h.AddLivenessCheck("counter", time.Second, func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	h.Start(context.Background(), 10*time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)

	h.Stop()
	h.Stop()
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("failing", time.Second, failingCheck("err"))
	h.AddReadinessCheck("passing", time.Second, passingCheck())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, time.Millisecond)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				serve(h.LiveEndpoint)
				serve(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
	h.Stop()
}

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCheckers(t *testing.T) {
	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))

	assert.NoError(t, PingCheck(pingerFunc(func(context.Context) error { return nil }))(context.Background()))
	err = PingCheck(pingerFunc(func(context.Context) error { return errors.New("refused") }))(context.Background())
	assert.EqualError(t, err, "ping: refused")
}
