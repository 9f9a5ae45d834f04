package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/deskcap/internal/config"
	"github.com/jmylchreest/deskcap/internal/ffmpeg"
	"github.com/jmylchreest/deskcap/internal/http/middleware"
	"github.com/jmylchreest/deskcap/internal/observability"
	"github.com/jmylchreest/deskcap/internal/orchestrator"
)

type staticSource struct{}

func (staticSource) RunID() string { return "01HQRUN" }

func (staticSource) Stats() []orchestrator.DisplaySnapshot {
	return []orchestrator.DisplaySnapshot{{
		Display:  0,
		State:    "capturing",
		Captured: 42,
		Encoder:  &ffmpeg.ProcessStats{PID: 4100, FramesWritten: 42, StderrTail: []string{"frame=   42"}},
	}}
}

func newTestServer(t *testing.T, b Backends) *httptest.Server {
	t.Helper()
	s := NewServer(DefaultServerConfig(), observability.Discard(), "1.2.3")
	s.RegisterHandlers(b)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestServer_Routes(t *testing.T) {
	ts := newTestServer(t, Backends{Version: "1.2.3", Capture: staticSource{}})

	t.Run("health", func(t *testing.T) {
		var body map[string]any
		resp := getJSON(t, ts.URL+"/health", &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "1.2.3", body["version"])
		assert.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
	})

	t.Run("displays", func(t *testing.T) {
		var body struct {
			RunID    string `json:"run_id"`
			Active   bool   `json:"active"`
			Displays []struct {
				Captured int `json:"captured"`
				Encoder  *struct {
					PID           int      `json:"pid"`
					FramesWritten int      `json:"frames_written"`
					StderrTail    []string `json:"stderr_tail"`
				} `json:"encoder"`
			} `json:"displays"`
		}
		resp := getJSON(t, ts.URL+"/api/v1/displays", &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "01HQRUN", body.RunID)
		assert.True(t, body.Active)
		require.Len(t, body.Displays, 1)
		assert.Equal(t, 42, body.Displays[0].Captured)
		require.NotNil(t, body.Displays[0].Encoder)
		assert.Equal(t, 4100, body.Displays[0].Encoder.PID)
		assert.Equal(t, 42, body.Displays[0].Encoder.FramesWritten)
		assert.Equal(t, []string{"frame=   42"}, body.Displays[0].Encoder.StderrTail)
	})

	t.Run("unknown display", func(t *testing.T) {
		resp := getJSON(t, ts.URL+"/api/v1/displays/3", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("runs not registered without a database", func(t *testing.T) {
		resp := getJSON(t, ts.URL+"/api/v1/runs", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("openapi", func(t *testing.T) {
		var doc struct {
			Info struct {
				Version string `json:"version"`
			} `json:"info"`
			Paths map[string]any `json:"paths"`
		}
		getJSON(t, ts.URL+"/openapi.json", &doc)
		assert.Equal(t, "1.2.3", doc.Info.Version)
		assert.Contains(t, doc.Paths, "/api/v1/displays")
		assert.Contains(t, doc.Paths, "/health")
	})
}

func TestServerConfigFrom(t *testing.T) {
	cfg := ServerConfigFrom(config.ServerConfig{Host: "0.0.0.0", Port: 9000, ReadTimeout: time.Second})
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, time.Second, cfg.ReadTimeout)
	assert.Equal(t, DefaultServerConfig().WriteTimeout, cfg.WriteTimeout)
}

func TestServer_ListenAndServe(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Port = 0
	s := NewServer(cfg, observability.Discard(), "")
	s.RegisterHandlers(Backends{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, 2*time.Second, 5*time.Millisecond)

	resp := getJSON(t, fmt.Sprintf("http://%s/livez", s.Addr()), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
