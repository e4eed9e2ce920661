package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"tenderscan/scanner-service/internal/model"
)

// Beginner starts transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const insertRun = `
	INSERT INTO scan_runs (id, started_at, completed_at, status, error, record_count, portals)
	VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)
	ON CONFLICT (id) DO UPDATE SET
	  completed_at = EXCLUDED.completed_at,
	  status       = EXCLUDED.status,
	  error        = EXCLUDED.error,
	  record_count = EXCLUDED.record_count,
	  portals      = EXCLUDED.portals`

// upsertTender rewrites a known tender only when something a reader cares
// about moved, so updated_at tracks real changes.
const upsertTender = `
	INSERT INTO tenders (
	  fingerprint, external_id, title, organization, portal, value,
	  posted_at, closing_at, description, location, categories, keywords,
	  contact_email, contact_phone, source_url, documents_url,
	  score, tier, matched_courses, is_active, content_hash, last_run_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	        $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	ON CONFLICT (fingerprint) DO UPDATE SET
	  external_id     = EXCLUDED.external_id,
	  value           = EXCLUDED.value,
	  posted_at       = EXCLUDED.posted_at,
	  closing_at      = EXCLUDED.closing_at,
	  description     = EXCLUDED.description,
	  location        = EXCLUDED.location,
	  categories      = EXCLUDED.categories,
	  keywords        = EXCLUDED.keywords,
	  contact_email   = EXCLUDED.contact_email,
	  contact_phone   = EXCLUDED.contact_phone,
	  source_url      = EXCLUDED.source_url,
	  documents_url   = EXCLUDED.documents_url,
	  score           = EXCLUDED.score,
	  tier            = EXCLUDED.tier,
	  matched_courses = EXCLUDED.matched_courses,
	  is_active       = EXCLUDED.is_active,
	  content_hash    = EXCLUDED.content_hash,
	  last_run_id     = EXCLUDED.last_run_id,
	  updated_at      = NOW()
	WHERE tenders.content_hash <> EXCLUDED.content_hash
	   OR tenders.is_active    <> EXCLUDED.is_active
	   OR tenders.score        <> EXCLUDED.score`

// deactivateClosed retires tenders whose deadline passed, including those
// no longer listed anywhere.
const deactivateClosed = `
	UPDATE tenders SET is_active = false, updated_at = NOW()
	WHERE is_active AND closing_at < $1`

// PostgresSink writes a run and its tenders in one transaction.
type PostgresSink struct {
	db     Beginner
	logger *zap.Logger
}

func NewPostgres(db Beginner, logger *zap.Logger) *PostgresSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSink{db: db, logger: logger.Named("sink.postgres")}
}

// Save records the run and upserts every tender keyed by fingerprint.
// Expired tenders are stored inactive, and any stored tender that closed
// before the run started is deactivated.
func (s *PostgresSink) Save(ctx context.Context, run *model.ScanRun) error {
	portals, err := json.Marshal(run.Portals)
	if err != nil {
		return fmt.Errorf("marshal portal outcomes: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, insertRun,
		run.ID, run.StartedAt, nullTime(run.CompletedAt), string(run.Status),
		run.Err, len(run.Records), string(portals),
	); err != nil {
		return fmt.Errorf("insert scan run %s: %w", run.ID, err)
	}

	changed := 0
	for _, r := range run.Records {
		tag, err := tx.Exec(ctx, upsertTender, tenderArgs(run.ID, r)...)
		if err != nil {
			return fmt.Errorf("upsert tender %q: %w", r.Title, err)
		}
		if tag.RowsAffected() > 0 {
			changed++
		}
	}

	tag, err := tx.Exec(ctx, deactivateClosed, run.StartedAt)
	if err != nil {
		return fmt.Errorf("deactivate closed tenders: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Info("scan run persisted",
		zap.String("run_id", run.ID),
		zap.Int("records", len(run.Records)),
		zap.Int("changed", changed),
		zap.Int("unchanged", len(run.Records)-changed),
		zap.Int64("deactivated", tag.RowsAffected()))
	return nil
}

func tenderArgs(runID string, r model.ScoredRecord) []any {
	return []any{
		model.Fingerprint(r.NormalizedRecord),
		r.ExternalID,
		r.Title,
		r.Organization,
		r.Portal,
		r.Value,
		nullTime(r.PostedAt),
		r.ClosingAt,
		r.Description,
		r.Location,
		nonNil(r.Categories),
		nonNil(r.Keywords),
		r.ContactEmail,
		r.ContactPhone,
		r.SourceURL,
		r.DocumentsURL,
		r.Score,
		r.Tier.String(),
		nonNil(r.MatchedCourses),
		!r.Expired,
		r.ContentHash(),
		runID,
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
