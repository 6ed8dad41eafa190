package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mailsentry/internal/model"
	"mailsentry/pkg/metrics"
)

const recordColumns = `
        id, email_id, stage, parallel_completed,
        content_weight, content_status, content_probability, content_confidence, content_verdict, content_reason,
        url_weight, url_status, url_probability, url_confidence, url_verdict, url_reason,
        metadata_weight, metadata_status, metadata_probability, metadata_confidence, metadata_verdict, metadata_reason,
        fused_score, fused_verdict, fused_explanation, confirmed,
        summary, category, urgency, importance, need_schedule, schedule_name, schedule_time,
        created_at, updated_at
`

type DetectionRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewDetectionRepository(db *pgxpool.Pool, logger *zap.Logger) *DetectionRepository {
	return &DetectionRepository{db: db, logger: logger}
}

// CreateRecord inserts the initial detection record for an email. The
// email_id column is unique, so a second initialization attempt returns
// ErrAlreadyInitialized.
func (r *DetectionRepository) CreateRecord(ctx context.Context, rec *model.DetectionRecord) (int, error) {
	r.logger.Debug("Creating detection record", zap.Int("email_id", rec.EmailID))
	query := `
        INSERT INTO detection_records (
            email_id, stage,
            content_weight, content_status,
            url_weight, url_status,
            metadata_weight, metadata_status,
            created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
        RETURNING id
    `
	start := time.Now()
	var id int
	err := r.db.QueryRow(ctx, query,
		rec.EmailID,
		rec.Stage,
		rec.Content.Weight, rec.Content.Status,
		rec.URL.Weight, rec.URL.Status,
		rec.Metadata.Weight, rec.Metadata.Status,
	).Scan(&id)
	metrics.RecordDBQuery("detection_create", time.Since(start))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrAlreadyInitialized
		}
		r.logger.Error("Failed to create detection record",
			zap.Error(err),
			zap.Int("email_id", rec.EmailID),
		)
		return 0, err
	}
	r.logger.Info("Detection record created",
		zap.Int("record_id", id),
		zap.Int("email_id", rec.EmailID),
	)
	return id, nil
}

// GetByEmailID loads the detection record for an email.
func (r *DetectionRepository) GetByEmailID(ctx context.Context, emailID int) (*model.DetectionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM detection_records WHERE email_id = $1`
	start := time.Now()
	rec, err := scanRecord(r.db.QueryRow(ctx, query, emailID))
	metrics.RecordDBQuery("detection_get", time.Since(start))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		r.logger.Error("Failed to load detection record",
			zap.Error(err),
			zap.Int("email_id", emailID),
		)
		return nil, err
	}
	return rec, nil
}

// MarkSignalsRunning flips every applicable (non-skipped) signal from
// NOT_STARTED to RUNNING.
func (r *DetectionRepository) MarkSignalsRunning(ctx context.Context, emailID int) error {
	query := `
        UPDATE detection_records
        SET content_status  = CASE WHEN content_status  = $2 THEN $3 ELSE content_status  END,
            url_status      = CASE WHEN url_status      = $2 THEN $3 ELSE url_status      END,
            metadata_status = CASE WHEN metadata_status = $2 THEN $3 ELSE metadata_status END,
            updated_at = NOW()
        WHERE email_id = $1
    `
	_, err := r.db.Exec(ctx, query, emailID, model.SignalNotStarted, model.SignalRunning)
	if err != nil {
		r.logger.Error("Failed to mark signals running",
			zap.Error(err),
			zap.Int("email_id", emailID),
		)
	}
	return err
}

// CompleteSignal writes one signal's outcome as DONE and, under a row
// lock, detects whether this completion finished the parallel stage.
// The returned bool is true for exactly one completion per record; only
// that caller should emit the completion notification.
func (r *DetectionRepository) CompleteSignal(ctx context.Context, emailID int, kind model.SignalKind, out model.SignalOutcome) (bool, *model.DetectionRecord, error) {
	prefix, err := signalColumnPrefix(kind)
	if err != nil {
		return false, nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + recordColumns + ` FROM detection_records WHERE email_id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, lockQuery, emailID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil, ErrRecordNotFound
		}
		return false, nil, err
	}

	updateQuery := fmt.Sprintf(`
        UPDATE detection_records
        SET %[1]s_status = $2,
            %[1]s_probability = $3,
            %[1]s_confidence = $4,
            %[1]s_verdict = $5,
            %[1]s_reason = $6,
            updated_at = NOW()
        WHERE email_id = $1
    `, prefix)
	if _, err := tx.Exec(ctx, updateQuery, emailID,
		model.SignalDone, out.Probability, out.Confidence, out.Verdict, out.Reason,
	); err != nil {
		return false, nil, err
	}

	state := rec.Signal(kind)
	state.Status = model.SignalDone
	state.Probability = out.Probability
	state.Confidence = out.Confidence
	state.Verdict = out.Verdict
	state.Reason = out.Reason

	completedNow := false
	if !rec.ParallelCompleted && rec.ParallelDone() {
		if _, err := tx.Exec(ctx, `
            UPDATE detection_records
            SET parallel_completed = TRUE, updated_at = NOW()
            WHERE email_id = $1
        `, emailID); err != nil {
			return false, nil, err
		}
		rec.ParallelCompleted = true
		completedNow = true
	}

	if err := tx.Commit(ctx); err != nil {
		return false, nil, err
	}

	r.logger.Info("Signal completed",
		zap.Int("email_id", emailID),
		zap.String("signal", string(kind)),
		zap.Bool("all_done", completedNow),
	)
	return completedNow, rec, nil
}

// BeginFusion validates that every non-skipped signal is DONE and
// advances the record to the fusion stage, returning a snapshot taken
// under the row lock.
func (r *DetectionRepository) BeginFusion(ctx context.Context, emailID int) (*model.DetectionRecord, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	lockQuery := `SELECT ` + recordColumns + ` FROM detection_records WHERE email_id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, lockQuery, emailID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	if !rec.ParallelDone() {
		return nil, ErrNotAllSignalsDone
	}

	if _, err := tx.Exec(ctx, `
        UPDATE detection_records
        SET stage = GREATEST(stage, $2), updated_at = NOW()
        WHERE email_id = $1
    `, emailID, model.StageFusion); err != nil {
		return nil, err
	}
	if rec.Stage < model.StageFusion {
		rec.Stage = model.StageFusion
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rec, nil
}

// SaveFusion writes the fused score, verdict, and explanation.
func (r *DetectionRepository) SaveFusion(ctx context.Context, emailID int, score float64, verdict bool, explanation string) error {
	query := `
        UPDATE detection_records
        SET fused_score = $2,
            fused_verdict = $3,
            fused_explanation = $4,
            updated_at = NOW()
        WHERE email_id = $1
    `
	tag, err := r.db.Exec(ctx, query, emailID, score, verdict, explanation)
	if err != nil {
		r.logger.Error("Failed to save fusion result",
			zap.Error(err),
			zap.Int("email_id", emailID),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	r.logger.Info("Fusion result saved",
		zap.Int("email_id", emailID),
		zap.Float64("score", score),
		zap.Bool("verdict", verdict),
	)
	return nil
}

// SaveEnrichment writes the enrichment fields and advances the record
// to the final stage.
func (r *DetectionRepository) SaveEnrichment(ctx context.Context, emailID int, e *model.Enrichment) error {
	query := `
        UPDATE detection_records
        SET summary = $2,
            category = $3,
            urgency = $4,
            importance = $5,
            need_schedule = $6,
            schedule_name = $7,
            schedule_time = $8,
            stage = GREATEST(stage, $9),
            updated_at = NOW()
        WHERE email_id = $1
    `
	tag, err := r.db.Exec(ctx, query, emailID,
		e.Summary, e.Category, e.Urgency, e.Importance,
		e.NeedSchedule, e.ScheduleName, e.ScheduleTime,
		model.StageEnriched,
	)
	if err != nil {
		r.logger.Error("Failed to save enrichment",
			zap.Error(err),
			zap.Int("email_id", emailID),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ConfirmPhishing forces a confirmed phishing outcome, creating the
// record if detection never ran. Idempotent; the stage never moves
// backwards and per-signal fields are left untouched.
func (r *DetectionRepository) ConfirmPhishing(ctx context.Context, emailID int) error {
	query := `
        INSERT INTO detection_records (email_id, stage, fused_verdict, confirmed, created_at, updated_at)
        VALUES ($1, $2, TRUE, TRUE, NOW(), NOW())
        ON CONFLICT (email_id) DO UPDATE
        SET fused_verdict = TRUE,
            confirmed = TRUE,
            stage = GREATEST(detection_records.stage, $2),
            updated_at = NOW()
    `
	_, err := r.db.Exec(ctx, query, emailID, model.StageEnriched)
	if err != nil {
		r.logger.Error("Failed to confirm phishing",
			zap.Error(err),
			zap.Int("email_id", emailID),
		)
		return err
	}
	r.logger.Info("Phishing confirmed", zap.Int("email_id", emailID))
	return nil
}

// Overview aggregates detection outcomes across a user's emails.
func (r *DetectionRepository) Overview(ctx context.Context, userID int) (*model.DetectionOverview, error) {
	query := `
        SELECT
            COUNT(*),
            COUNT(*) FILTER (WHERE d.id IS NOT NULL AND d.stage >= $2 AND d.fused_verdict),
            COUNT(*) FILTER (WHERE d.id IS NOT NULL AND d.stage >= $2 AND NOT d.fused_verdict),
            COUNT(*) FILTER (WHERE d.id IS NULL OR d.stage < $2)
        FROM emails e
        LEFT JOIN detection_records d ON d.email_id = e.id
        WHERE e.user_id = $1 AND NOT e.is_deleted
    `
	var o model.DetectionOverview
	err := r.db.QueryRow(ctx, query, userID, model.StageFusion).Scan(
		&o.Total, &o.Phishing, &o.Legitimate, &o.Pending,
	)
	if err != nil {
		r.logger.Error("Failed to build detection overview",
			zap.Error(err),
			zap.Int("user_id", userID),
		)
		return nil, err
	}
	return &o, nil
}

func signalColumnPrefix(kind model.SignalKind) (string, error) {
	switch kind {
	case model.SignalContent:
		return "content", nil
	case model.SignalURL:
		return "url", nil
	case model.SignalMetadata:
		return "metadata", nil
	}
	return "", fmt.Errorf("unknown signal kind %q", kind)
}

func scanRecord(row pgx.Row) (*model.DetectionRecord, error) {
	var rec model.DetectionRecord
	err := row.Scan(
		&rec.ID, &rec.EmailID, &rec.Stage, &rec.ParallelCompleted,
		&rec.Content.Weight, &rec.Content.Status, &rec.Content.Probability, &rec.Content.Confidence, &rec.Content.Verdict, &rec.Content.Reason,
		&rec.URL.Weight, &rec.URL.Status, &rec.URL.Probability, &rec.URL.Confidence, &rec.URL.Verdict, &rec.URL.Reason,
		&rec.Metadata.Weight, &rec.Metadata.Status, &rec.Metadata.Probability, &rec.Metadata.Confidence, &rec.Metadata.Verdict, &rec.Metadata.Reason,
		&rec.FusedScore, &rec.FusedVerdict, &rec.FusedExplanation, &rec.Confirmed,
		&rec.Summary, &rec.Category, &rec.Urgency, &rec.Importance,
		&rec.NeedSchedule, &rec.ScheduleName, &rec.ScheduleTime,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
