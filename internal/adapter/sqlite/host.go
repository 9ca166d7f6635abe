package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"recommerce"
)

// AppendHostSample inserts a new system_information row. Sample fields are
// stored as JSON text.
func (s *Store) AppendHostSample(ctx context.Context, sample recommerce.HostSample) error {
	cpu, err := json.Marshal(sample.CPU)
	if err != nil {
		return fmt.Errorf("encode cpu sample: %w", err)
	}
	ram, err := json.Marshal(sample.RAM)
	if err != nil {
		return fmt.Errorf("encode ram sample: %w", err)
	}
	io, err := json.Marshal(sample.IO)
	if err != nil {
		return fmt.Errorf("encode io sample: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sampledAt := sample.SampledAt
	if sampledAt.IsZero() {
		sampledAt = s.stamp()
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO system_information (sampled_at, cpu, ram, io) VALUES (?, ?, ?, ?)`,
		formatTime(sampledAt), string(cpu), string(ram), string(io),
	); err != nil {
		return fmt.Errorf("insert host sample: %w", err)
	}
	return nil
}
