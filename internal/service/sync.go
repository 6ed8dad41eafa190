package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"mailsentry/internal/mailbox"
	"mailsentry/internal/model"
	"mailsentry/pkg/metrics"
)

// MailFetcher retrieves messages newer than the given UID watermark.
type MailFetcher interface {
	FetchNew(ctx context.Context, binding *model.MailboxBinding, lastUID uint32) ([]mailbox.Message, error)
}

// BindingStore lists the bindings eligible for sync.
type BindingStore interface {
	ListActive(ctx context.Context) ([]model.MailboxBinding, error)
}

// EmailBatchStore persists a fetched batch and the watermark together.
type EmailBatchStore interface {
	StoreBatch(ctx context.Context, bindingID int, lastUID string, emails []model.Email) (int, error)
}

// SyncLocker serializes concurrent sync invocations per binding. The
// release function is a no-op when the lock was not acquired.
type SyncLocker interface {
	TryLock(ctx context.Context, bindingID int) (func(), bool)
}

// SyncSummary aggregates one sync run across all bindings.
type SyncSummary struct {
	Success int      `json:"success"`
	Errors  int      `json:"errors"`
	Skipped int      `json:"skipped"`
	Fetched int      `json:"fetched"`
	Details []string `json:"details,omitempty"`
}

// SyncService performs incremental mailbox ingestion: fetch only
// messages above each binding's UID watermark, persist them, and
// advance the watermark in the same transaction.
type SyncService struct {
	bindings BindingStore
	emails   EmailBatchStore
	fetcher  MailFetcher
	locker   SyncLocker
	logger   *zap.Logger
}

func NewSyncService(bindings BindingStore, emails EmailBatchStore, fetcher MailFetcher, locker SyncLocker, logger *zap.Logger) *SyncService {
	return &SyncService{
		bindings: bindings,
		emails:   emails,
		fetcher:  fetcher,
		locker:   locker,
		logger:   logger,
	}
}

// SyncAll runs every active binding sequentially. One binding's failure
// is recorded and never aborts the run.
func (s *SyncService) SyncAll(ctx context.Context) (*SyncSummary, error) {
	bindings, err := s.bindings.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing bindings: %w", err)
	}

	summary := &SyncSummary{}
	for i := range bindings {
		b := &bindings[i]

		release, ok := s.locker.TryLock(ctx, b.ID)
		if !ok {
			summary.Skipped++
			metrics.IncrementSyncRun("locked")
			s.logger.Debug("Binding sync already in progress",
				zap.Int("binding_id", b.ID),
			)
			continue
		}

		fetched, err := s.SyncBinding(ctx, b)
		release()

		if err != nil {
			summary.Errors++
			summary.Details = append(summary.Details,
				fmt.Sprintf("binding %d (%s): %v", b.ID, b.EmailAddress, err))
			metrics.IncrementSyncRun("error")
			s.logger.Error("Binding sync failed",
				zap.Int("binding_id", b.ID),
				zap.String("email", b.EmailAddress),
				zap.Error(err),
			)
			continue
		}
		summary.Success++
		summary.Fetched += fetched
		metrics.IncrementSyncRun("success")
	}

	s.logger.Info("Sync run completed",
		zap.Int("success", summary.Success),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped", summary.Skipped),
		zap.Int("fetched", summary.Fetched),
	)
	return summary, nil
}

// SyncBinding fetches and stores everything above the binding's
// watermark, returning the number of messages fetched. An empty fetch
// window has no side effects.
func (s *SyncService) SyncBinding(ctx context.Context, binding *model.MailboxBinding) (int, error) {
	lastUID := parseWatermark(binding.LastUID)

	messages, err := s.fetcher.FetchNew(ctx, binding, lastUID)
	if err != nil {
		return 0, fmt.Errorf("fetching mail: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	maxUID := lastUID
	emails := make([]model.Email, 0, len(messages))
	for _, msg := range messages {
		if msg.UID > maxUID {
			maxUID = msg.UID
		}
		emails = append(emails, model.Email{
			BindingID: binding.ID,
			UserID:    binding.UserID,
			EmailUID:  strconv.FormatUint(uint64(msg.UID), 10),
			Subject:   msg.Subject,
			Sender:    msg.Sender,
			EmailDate: msg.Date,
			Body:      msg.Body,
			Headers:   msg.Headers,
		})
	}

	watermark := strconv.FormatUint(uint64(maxUID), 10)
	stored, err := s.emails.StoreBatch(ctx, binding.ID, watermark, emails)
	if err != nil {
		return 0, fmt.Errorf("storing batch: %w", err)
	}

	s.logger.Info("Binding synced",
		zap.Int("binding_id", binding.ID),
		zap.Int("fetched", len(messages)),
		zap.Int("stored", stored),
		zap.String("last_uid", watermark),
	)
	return len(messages), nil
}

// parseWatermark interprets the stored watermark numerically. An empty
// or unparsable value restarts from zero; (binding_id, uid) dedup makes
// the resulting re-fetch harmless.
func parseWatermark(s string) uint32 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
