package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/deskcap/internal/orchestrator"
)

// StatsSource exposes the live state of a capture run. Implemented by
// *orchestrator.Orchestrator.
type StatsSource interface {
	RunID() string
	Stats() []orchestrator.DisplaySnapshot
}

const defaultStreamInterval = time.Second

// DisplayHandler serves live per-display capture statistics.
type DisplayHandler struct {
	source   StatsSource
	interval time.Duration
	logger   *slog.Logger
}

// NewDisplayHandler creates a display handler. A nil source reports no
// active capture.
func NewDisplayHandler(source StatsSource, logger *slog.Logger) *DisplayHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DisplayHandler{source: source, interval: defaultStreamInterval, logger: logger}
}

// WithInterval sets how often the event stream emits snapshots.
func (h *DisplayHandler) WithInterval(d time.Duration) *DisplayHandler {
	if d > 0 {
		h.interval = d
	}
	return h
}

// DisplaysBody is the live view of a run.
type DisplaysBody struct {
	RunID    string                         `json:"run_id,omitempty"`
	Active   bool                           `json:"active" doc:"True while at least one display loop is running"`
	Displays []orchestrator.DisplaySnapshot `json:"displays"`
}

// ListDisplaysInput is the input for listing displays.
type ListDisplaysInput struct{}

// ListDisplaysOutput is the output for listing displays.
type ListDisplaysOutput struct {
	Body DisplaysBody
}

// GetDisplayInput is the input for getting one display.
type GetDisplayInput struct {
	Index int `path:"index" minimum:"0" doc:"Display index"`
}

// GetDisplayOutput is the output for getting one display.
type GetDisplayOutput struct {
	Body orchestrator.DisplaySnapshot
}

// Register registers the display routes with the API.
func (h *DisplayHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listDisplays",
		Method:      "GET",
		Path:        "/api/v1/displays",
		Summary:     "List displays",
		Description: "Returns live capture statistics for every display of the current run",
		Tags:        []string{"Capture"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getDisplay",
		Method:      "GET",
		Path:        "/api/v1/displays/{index}",
		Summary:     "Get display",
		Description: "Returns live capture statistics for one display",
		Tags:        []string{"Capture"},
	}, h.Get)
}

// RegisterStream registers the server-sent event stream on the raw router.
// Huma operations buffer their response, so the stream bypasses it.
func (h *DisplayHandler) RegisterStream(r chi.Router) {
	r.Get("/api/v1/displays/events", h.handleEvents)
}

// List returns every display of the current run.
func (h *DisplayHandler) List(_ context.Context, _ *ListDisplaysInput) (*ListDisplaysOutput, error) {
	return &ListDisplaysOutput{Body: h.snapshot()}, nil
}

// Get returns one display of the current run.
func (h *DisplayHandler) Get(_ context.Context, input *GetDisplayInput) (*GetDisplayOutput, error) {
	for _, d := range h.snapshot().Displays {
		if d.Display == input.Index {
			return &GetDisplayOutput{Body: d}, nil
		}
	}
	return nil, huma.Error404NotFound(fmt.Sprintf("display %d is not being captured", input.Index))
}

func (h *DisplayHandler) snapshot() DisplaysBody {
	body := DisplaysBody{Displays: []orchestrator.DisplaySnapshot{}}
	if h.source == nil {
		return body
	}
	body.RunID = h.source.RunID()
	if stats := h.source.Stats(); stats != nil {
		body.Displays = stats
		body.Active = !allTerminal(stats)
	}
	return body
}

// handleEvents streams a "stats" event every interval and a final "done"
// event once every loop has exited.
func (h *DisplayHandler) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		body := h.snapshot()
		event := "stats"
		finished := len(body.Displays) > 0 && !body.Active
		if finished {
			event = "done"
		}
		if err := writeEvent(w, event, body); err != nil {
			h.logger.Error("failed to write display event", slog.String("error", err.Error()))
			return
		}
		if err := rc.Flush(); err != nil {
			h.logger.Debug("display event flush failed, client likely disconnected",
				slog.String("error", err.Error()))
			return
		}
		if finished {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", event, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func allTerminal(stats []orchestrator.DisplaySnapshot) bool {
	for _, s := range stats {
		switch s.State {
		case orchestrator.StateTerminated.String(), orchestrator.StateFailed.String(), orchestrator.StateStopped.String():
		default:
			return false
		}
	}
	return true
}
