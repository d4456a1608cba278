package tracking

import (
	"log/slog"

	"wavepipe.click/internal/sqfh"
)

// SlogHook acknowledges track boundaries and logs them, used when
// database tracking is disabled. The output loop always needs an
// acknowledging hook for multi-track streams, so this is the minimum
// one.
type SlogHook struct {
	acker  BoundaryAcker
	logger *slog.Logger
}

// NewSlogHook creates a new SlogHook with the given logger.
// If logger is nil, uses the default logger.
func NewSlogHook(acker BoundaryAcker, logger *slog.Logger) *SlogHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogHook{
		acker:  acker,
		logger: logger,
	}
}

// GetHook returns the BoundaryHook function for wiring into the output
// loop configuration.
func (s *SlogHook) GetHook() BoundaryHook {
	return func(hdr sqfh.Header, emitted bool) {
		if s.acker != nil {
			s.acker.AckTrackStarted()
		}
		s.logger.Debug("track boundary",
			"sample_rate", hdr.SampleRate,
			"bit_depth", hdr.BitDepth,
			"encoding", hdr.Encoding.String(),
			"header_emitted", emitted,
		)
	}
}
