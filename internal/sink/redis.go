package sink

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/model"
	"tenderscan/scanner-service/internal/scan"
)

const (
	// ChannelScanCompleted receives one event per persisted run.
	ChannelScanCompleted = "EVENT_SCAN_COMPLETED"
	// KeyLastRun holds the summary of the most recent persisted run.
	KeyLastRun = "tenderscan:last_run"
)

// ScanCompleted is the event payload published after a run is saved.
type ScanCompleted struct {
	Type        string                     `json:"type"`
	RunID       string                     `json:"runId"`
	Status      model.RunStatus            `json:"status"`
	StartedAt   time.Time                  `json:"startedAt"`
	CompletedAt time.Time                  `json:"completedAt"`
	Records     int                        `json:"records"`
	ByTier      map[string]int             `json:"byTier"`
	Portals     map[model.PortalStatus]int `json:"portals"`
	Error       string                     `json:"error,omitempty"`
}

// RedisPublisher announces runs persisted by next. Publishing is best effort:
// a Redis failure is logged and never fails the save.
type RedisPublisher struct {
	next   scan.Sink
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(next scan.Sink, rdb *redis.Client, logger *zap.Logger) *RedisPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{next: next, rdb: rdb, logger: logger.Named("sink.redis")}
}

func (p *RedisPublisher) Save(ctx context.Context, run *model.ScanRun) error {
	if err := p.next.Save(ctx, run); err != nil {
		return err
	}

	s := run.Summary()
	event, err := json.Marshal(ScanCompleted{
		Type:        ChannelScanCompleted,
		RunID:       run.ID,
		Status:      run.Status,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Records:     s.Total,
		ByTier:      s.ByTier,
		Portals:     s.ByStatus,
		Error:       run.Err,
	})
	if err != nil {
		p.logger.Warn("marshal scan event failed", zap.Error(err))
		return nil
	}

	if err := p.rdb.Set(ctx, KeyLastRun, event, 0).Err(); err != nil {
		p.logger.Warn("store last run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	if err := p.rdb.Publish(ctx, ChannelScanCompleted, event).Err(); err != nil {
		p.logger.Warn("publish "+ChannelScanCompleted+" failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	return nil
}
