package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/deskcap/internal/models"
	"github.com/jmylchreest/deskcap/internal/repository"
)

// RunHandler serves recorded capture runs.
type RunHandler struct {
	runs   repository.CaptureRunRepository
	frames repository.FrameRecordRepository
}

// NewRunHandler creates a run handler.
func NewRunHandler(runs repository.CaptureRunRepository, frames repository.FrameRecordRepository) *RunHandler {
	return &RunHandler{runs: runs, frames: frames}
}

// RunResponse is the API view of a capture run.
type RunResponse struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Backend          string     `json:"backend"`
	Encoder          string     `json:"encoder"`
	FramesPerDisplay int        `json:"frames_per_display"`
	TargetIntervalUs int64      `json:"target_interval_us"`
	EagerRetry       bool       `json:"eager_retry"`
	Hostname         string     `json:"hostname,omitempty"`
	OS               string     `json:"os,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	DurationSec      float64    `json:"duration_sec"`
	Captured         int        `json:"captured"`
	LastError        string     `json:"last_error,omitempty"`
}

// DisplayResultResponse is the API view of one display's outcome.
type DisplayResultResponse struct {
	Display      int    `json:"display"`
	Name         string `json:"name,omitempty"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	State        string `json:"state"`
	Captured     int    `json:"captured"`
	Recoveries   int    `json:"recoveries"`
	LastSequence uint64 `json:"last_sequence"`
	Error        string `json:"error,omitempty"`
}

// RunDetailResponse is a run with its display results and frame summaries.
type RunDetailResponse struct {
	RunResponse
	Displays  []DisplayResultResponse     `json:"displays"`
	Records   int64                       `json:"records"`
	Summaries []repository.DisplaySummary `json:"summaries"`
}

// RunFromModel converts a run into its API view.
func RunFromModel(r *models.CaptureRun) RunResponse {
	return RunResponse{
		ID:               r.ID.String(),
		Status:           string(r.Status),
		Backend:          r.Backend,
		Encoder:          r.Encoder,
		FramesPerDisplay: r.FramesPerDisplay,
		TargetIntervalUs: r.TargetIntervalUs,
		EagerRetry:       r.EagerRetry,
		Hostname:         r.Hostname,
		OS:               r.OS,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
		DurationSec:      r.Duration().Seconds(),
		Captured:         r.Captured,
		LastError:        r.LastError,
	}
}

// DisplayResultFromModel converts a display result into its API view.
func DisplayResultFromModel(d models.DisplayResult) DisplayResultResponse {
	return DisplayResultResponse{
		Display:      d.DisplayIndex,
		Name:         d.Name,
		Width:        d.Width,
		Height:       d.Height,
		State:        d.State,
		Captured:     d.Captured,
		Recoveries:   d.Recoveries,
		LastSequence: d.LastSequence,
		Error:        d.Error,
	}
}

// ListRunsInput is the input for listing runs.
type ListRunsInput struct {
	Status string `query:"status" doc:"Filter by status (running, completed, failed, interrupted)"`
	Limit  int    `query:"limit" minimum:"0" maximum:"1000" default:"50" doc:"Maximum number of runs"`
}

// ListRunsOutput is the output for listing runs.
type ListRunsOutput struct {
	Body struct {
		Runs []RunResponse `json:"runs"`
	}
}

// GetRunInput is the input for getting a run.
type GetRunInput struct {
	ID string `path:"id" doc:"Run ID (ULID)"`
}

// GetRunOutput is the output for getting a run.
type GetRunOutput struct {
	Body RunDetailResponse
}

// Register registers the run routes with the API.
func (h *RunHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listRuns",
		Method:      "GET",
		Path:        "/api/v1/runs",
		Summary:     "List runs",
		Description: "Returns recorded capture runs, newest first",
		Tags:        []string{"Runs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getRun",
		Method:      "GET",
		Path:        "/api/v1/runs/{id}",
		Summary:     "Get run",
		Description: "Returns a capture run with per-display results and frame timing summaries",
		Tags:        []string{"Runs"},
	}, h.GetByID)
}

// List returns recorded runs.
func (h *RunHandler) List(ctx context.Context, input *ListRunsInput) (*ListRunsOutput, error) {
	status := models.RunStatus(input.Status)
	if status != "" && !status.Valid() {
		return nil, huma.Error400BadRequest(fmt.Sprintf("unknown run status %q", input.Status))
	}

	runs, err := h.runs.List(ctx, repository.RunListOptions{
		Status: status,
		Limit:  input.Limit,
	})
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list runs", err)
	}

	out := &ListRunsOutput{}
	out.Body.Runs = make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out.Body.Runs = append(out.Body.Runs, RunFromModel(r))
	}
	return out, nil
}

// GetByID returns a run by ID.
func (h *RunHandler) GetByID(ctx context.Context, input *GetRunInput) (*GetRunOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}

	run, err := h.runs.GetByID(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get run", err)
	}
	if run == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("run %s not found", input.ID))
	}

	detail := RunDetailResponse{
		RunResponse: RunFromModel(run),
		Displays:    make([]DisplayResultResponse, 0, len(run.Displays)),
		Summaries:   []repository.DisplaySummary{},
	}
	for _, d := range run.Displays {
		detail.Displays = append(detail.Displays, DisplayResultFromModel(d))
	}

	if h.frames != nil {
		if detail.Records, err = h.frames.CountByRun(ctx, id); err != nil {
			return nil, huma.Error500InternalServerError("failed to count frame records", err)
		}
		summaries, err := h.frames.Summaries(ctx, id)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to summarize frame records", err)
		}
		if summaries != nil {
			detail.Summaries = summaries
		}
	}

	return &GetRunOutput{Body: detail}, nil
}
