package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"mailsentry/internal/model"
)

type BindingRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewBindingRepository(db *pgxpool.Pool, logger *zap.Logger) *BindingRepository {
	return &BindingRepository{db: db, logger: logger}
}

// ListActive returns every binding eligible for sync.
func (r *BindingRepository) ListActive(ctx context.Context) ([]model.MailboxBinding, error) {
	query := `
        SELECT id, user_id, email_address, auth_code, imap_server, imap_port,
               use_id_handshake, last_uid, is_active, is_deleted, created_at, updated_at
        FROM mailbox_bindings
        WHERE is_active AND NOT is_deleted
        ORDER BY id
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to query mailbox bindings", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	bindings := []model.MailboxBinding{}
	for rows.Next() {
		var b model.MailboxBinding
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.EmailAddress, &b.AuthCode, &b.IMAPServer,
			&b.IMAPPort, &b.UseIDHandshake, &b.LastUID, &b.IsActive,
			&b.IsDeleted, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}
