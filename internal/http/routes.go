package http

import (
	"github.com/jmylchreest/deskcap/internal/http/handlers"
	"github.com/jmylchreest/deskcap/internal/repository"
)

// Backends are the data sources behind the status API. Any of them may be
// nil; the matching endpoints then report nothing configured.
type Backends struct {
	Version string
	DB      handlers.Pinger
	Capture handlers.StatsSource
	Runs    repository.CaptureRunRepository
	Frames  repository.FrameRecordRepository
}

// RegisterHandlers registers every status API route.
func (s *Server) RegisterHandlers(b Backends) {
	health := handlers.NewHealthHandler(b.Version)
	if b.DB != nil {
		health.WithDB(b.DB)
	}
	if b.Capture != nil {
		health.WithCapture(b.Capture)
	}
	health.Register(s.api)

	displays := handlers.NewDisplayHandler(b.Capture, s.logger)
	displays.RegisterStream(s.router)
	displays.Register(s.api)

	if b.Runs != nil {
		handlers.NewRunHandler(b.Runs, b.Frames).Register(s.api)
	}
}
