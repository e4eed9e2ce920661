// Package sink persists finished scan runs and announces them to the rest
// of the platform.
package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/scan"
)

// LogSink writes a one-line summary of each run. The one-shot CLI uses it
// when no database is configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("sink.log")}
}

func (s *LogSink) Save(_ context.Context, run *model.ScanRun) error {
	sum := run.Summary()
	s.logger.Info("scan run",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("records", sum.Total),
		zap.Int("high", sum.ByTier[model.TierHigh.String()]),
		zap.Int("medium", sum.ByTier[model.TierMedium.String()]),
		zap.Int("low", sum.ByTier[model.TierLow.String()]),
		zap.Int("expired", sum.Expired),
		zap.Duration("duration", sum.Duration))
	return nil
}

// Multi saves to every sink in order, attempting all of them even after a
// failure.
type Multi []scan.Sink

func (m Multi) Save(ctx context.Context, run *model.ScanRun) error {
	var errs []error
	for i, s := range m {
		if err := s.Save(ctx, run); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
