package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mailsentry/internal/model"
	"mailsentry/pkg/metrics"
)

type EmailRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewEmailRepository(db *pgxpool.Pool, logger *zap.Logger) *EmailRepository {
	return &EmailRepository{db: db, logger: logger}
}

const emailColumns = `
        id, binding_id, user_id, email_uid, subject, sender, email_date,
        body, headers, detection_status, is_deleted, created_at, updated_at
`

// GetByID loads a single non-deleted email.
func (r *EmailRepository) GetByID(ctx context.Context, id int) (*model.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails WHERE id = $1 AND NOT is_deleted`
	start := time.Now()
	e, err := scanEmail(r.db.QueryRow(ctx, query, id))
	metrics.RecordDBQuery("email_get", time.Since(start))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEmailNotFound
		}
		r.logger.Error("Failed to load email", zap.Error(err), zap.Int("email_id", id))
		return nil, err
	}
	return e, nil
}

// SetDetectionStatus updates the coarse per-email detection status.
func (r *EmailRepository) SetDetectionStatus(ctx context.Context, id int, status model.DetectionStatus) error {
	query := `
        UPDATE emails
        SET detection_status = $2, updated_at = NOW()
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		r.logger.Error("Failed to update detection status",
			zap.Error(err),
			zap.Int("email_id", id),
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEmailNotFound
	}
	return nil
}

// ListByUser returns the user's non-deleted emails, newest first.
func (r *EmailRepository) ListByUser(ctx context.Context, userID int) ([]model.Email, error) {
	query := `
        SELECT ` + emailColumns + `
        FROM emails
        WHERE user_id = $1 AND NOT is_deleted
        ORDER BY email_date DESC NULLS LAST, id DESC
    `
	start := time.Now()
	rows, err := r.db.Query(ctx, query, userID)
	metrics.RecordDBQuery("email_list", time.Since(start))
	if err != nil {
		r.logger.Error("Failed to query emails",
			zap.Error(err),
			zap.Int("user_id", userID),
		)
		return nil, err
	}
	defer rows.Close()

	emails := []model.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		emails = append(emails, *e)
	}
	return emails, rows.Err()
}

// StoreBatch inserts freshly fetched emails and advances the binding's
// sync watermark in one transaction. Rows whose (binding_id, email_uid)
// already exist are silently skipped, so replaying a fetch window is
// harmless. Returns the number of rows actually inserted.
func (r *EmailRepository) StoreBatch(ctx context.Context, bindingID int, lastUID string, emails []model.Email) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
        INSERT INTO emails (
            binding_id, user_id, email_uid, subject, sender, email_date,
            body, headers, detection_status, created_at, updated_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
        ON CONFLICT (binding_id, email_uid) DO NOTHING
    `
	stored := 0
	for i := range emails {
		e := &emails[i]
		tag, err := tx.Exec(ctx, insertQuery,
			bindingID, e.UserID, e.EmailUID, e.Subject, e.Sender, e.EmailDate,
			e.Body, e.Headers, model.DetectionPending,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting email uid %s: %w", e.EmailUID, err)
		}
		if tag.RowsAffected() > 0 {
			stored++
		}
	}

	if _, err := tx.Exec(ctx, `
        UPDATE mailbox_bindings
        SET last_uid = $2, updated_at = NOW()
        WHERE id = $1
    `, bindingID, lastUID); err != nil {
		return 0, fmt.Errorf("updating last_uid: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	metrics.IncrementEmailsFetched("stored", stored)
	metrics.IncrementEmailsFetched("duplicate", len(emails)-stored)
	r.logger.Info("Email batch stored",
		zap.Int("binding_id", bindingID),
		zap.Int("fetched", len(emails)),
		zap.Int("stored", stored),
		zap.String("last_uid", lastUID),
	)
	return stored, nil
}

func scanEmail(row pgx.Row) (*model.Email, error) {
	var e model.Email
	err := row.Scan(
		&e.ID, &e.BindingID, &e.UserID, &e.EmailUID, &e.Subject, &e.Sender,
		&e.EmailDate, &e.Body, &e.Headers, &e.DetectionStatus, &e.IsDeleted,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
