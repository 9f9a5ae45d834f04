package encoder

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmylchreest/deskcap/internal/capture"
)

// Null discards frames after validating them. It is used for dry runs and
// tests. FailAt makes the n-th Preprocess call (1-based) fail; FailInit makes
// every Init call after the first InitOK calls fail.
type Null struct {
	FailAt   int
	FailInit bool
	InitOK   int

	mu          sync.Mutex
	initialized bool
	format      Format
	inits       int
	cleanups    int
	forced      int
	frames      int
	calls       int
}

// NewNull returns a Null encoder.
func NewNull() *Null { return &Null{} }

// Name implements Encoder.
func (n *Null) Name() string { return "null" }

// Init implements Encoder.
func (n *Null) Init(_ context.Context, format Format) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.initialized {
		return ErrAlreadyInitialized
	}
	if err := format.Validate(); err != nil {
		return err
	}
	if n.FailInit && n.inits >= n.InitOK {
		n.inits++
		return fmt.Errorf("null encoder: init %d refused", n.inits)
	}
	n.inits++
	n.initialized = true
	n.format = format
	return nil
}

// Preprocess implements Encoder.
func (n *Null) Preprocess(_ context.Context, surface capture.Surface) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if !n.initialized {
		return ErrNotInitialized
	}
	if surface == nil {
		return fmt.Errorf("null encoder: nil surface")
	}
	if n.FailAt > 0 && n.calls == n.FailAt {
		return fmt.Errorf("null encoder: preprocess %d failed", n.calls)
	}
	n.frames++
	return nil
}

// Cleanup implements Encoder.
func (n *Null) Cleanup(force bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleanups++
	if force {
		n.forced++
	}
	n.initialized = false
	return nil
}

// NullStats is a snapshot of a Null encoder's counters.
type NullStats struct {
	Inits    int
	Cleanups int
	Forced   int
	Frames   int
	Calls    int
	Format   Format
}

// Stats returns the encoder's counters.
func (n *Null) Stats() NullStats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return NullStats{
		Inits:    n.inits,
		Cleanups: n.cleanups,
		Forced:   n.forced,
		Frames:   n.frames,
		Calls:    n.calls,
		Format:   n.format,
	}
}
