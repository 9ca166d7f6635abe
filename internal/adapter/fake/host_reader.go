package fake

import (
	"context"
	"sync"

	"recommerce"
)

// HostReader returns a fixed host sample.
type HostReader struct {
	CallRecorder
	mu     sync.Mutex
	sample recommerce.HostSample

	ReadErr func(ctx context.Context) error
}

func NewHostReader(sample recommerce.HostSample) *HostReader {
	return &HostReader{sample: sample}
}

func (h *HostReader) Set(sample recommerce.HostSample) {
	h.mu.Lock()
	h.sample = sample
	h.mu.Unlock()
}

func (h *HostReader) Read(ctx context.Context) (recommerce.HostSample, error) {
	h.record("Read")
	if h.ReadErr != nil {
		if err := h.ReadErr(ctx); err != nil {
			return recommerce.HostSample{}, err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.sample
	s.CPU = append([]float64(nil), h.sample.CPU...)
	return s, nil
}
