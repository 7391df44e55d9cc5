package mail

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailwatch/internal/events"
	"github.com/brandon/mailwatch/internal/metrics"
	"github.com/brandon/mailwatch/pkg/types"
)

// MessageStore is the slice of the persistence layer the sync engine needs.
type MessageStore interface {
	UpsertMessage(*types.Message) error
}

// SessionProvider exposes the supervisor's registry to the sync engine.
type SessionProvider interface {
	Session(accountID string) (Session, bool)
}

// Progress reports per-message sync progress to a caller-supplied callback.
type Progress struct {
	AccountID string
	Folder    string
	Current   int
	Total     int
}

// ProgressFunc receives progress reports during a folder sync.
type ProgressFunc func(Progress)

// Syncer walks a folder's message sequence in bounded batches, normalizes
// each message, enriches it through the analytics probe and upserts it into
// the store keyed by (message_id, account_id).
type Syncer struct {
	sessions  SessionProvider
	store     MessageStore
	analyzer  Analyzer
	notifier  *events.Notifier
	logger    *logrus.Logger
	batchSize int
}

// NewSyncer creates a sync engine over the given session registry.
func NewSyncer(sessions SessionProvider, store MessageStore, analyzer Analyzer, notifier *events.Notifier, batchSize int, logger *logrus.Logger) *Syncer {
	if batchSize < 1 {
		batchSize = 50
	}
	return &Syncer{
		sessions:  sessions,
		store:     store,
		analyzer:  analyzer,
		notifier:  notifier,
		logger:    logger,
		batchSize: batchSize,
	}
}

// SyncFolder synchronizes one folder of an already-connected account.
// Batches run sequentially in increasing sequence-number order; messages
// within a batch are decoded and probed concurrently. A decode or analytics
// failure on a single message is logged and skipped, never aborting the
// batch. Returns ErrNoSession when the account has no live session.
func (s *Syncer) SyncFolder(ctx context.Context, accountID, folder string, onProgress ProgressFunc, onNewMessage func(*types.Message)) error {
	sess, ok := s.sessions.Session(accountID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSession, accountID)
	}

	started := time.Now()
	defer func() {
		metrics.SyncDuration.Observe(time.Since(started).Seconds())
	}()

	total, err := sess.SelectReadOnly(folder)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	processed := 0

	for start := uint32(1); start <= total; start += uint32(s.batchSize) {
		end := start + uint32(s.batchSize) - 1
		if end > total {
			end = total
		}

		raws, err := sess.FetchRange(start, end)
		if err != nil {
			return fmt.Errorf("failed to fetch batch %d:%d of %s: %w", start, end, folder, err)
		}

		var wg sync.WaitGroup
		for _, raw := range raws {
			wg.Add(1)
			go func(raw RawMessage) {
				defer wg.Done()
				s.processMessage(ctx, accountID, folder, raw, int(total), &mu, &processed, onProgress, onNewMessage)
			}(raw)
		}
		wg.Wait()
	}

	s.logger.WithFields(logrus.Fields{
		"account":   accountID,
		"folder":    folder,
		"processed": processed,
		"total":     total,
	}).Info("Finished syncing folder")

	return nil
}

func (s *Syncer) processMessage(ctx context.Context, accountID, folder string, raw RawMessage, total int, mu *sync.Mutex, processed *int, onProgress ProgressFunc, onNewMessage func(*types.Message)) {
	msg, err := buildMessage(ctx, s.analyzer, accountID, folder, raw)
	if err != nil {
		metrics.MessagesSkippedTotal.Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"folder": folder,
			"seq":    raw.SeqNum,
		}).Warn("Failed to process message, skipping")
		return
	}

	if err := s.store.UpsertMessage(msg); err != nil {
		metrics.MessagesSkippedTotal.Inc()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"folder":     folder,
			"message_id": msg.MessageID,
		}).Warn("Failed to store message, skipping")
		return
	}

	metrics.MessagesSyncedTotal.Inc()
	s.notifier.PublishNewMessage(msg)
	if onNewMessage != nil {
		onNewMessage(msg)
	}

	mu.Lock()
	*processed++
	current := *processed
	mu.Unlock()

	s.notifier.PublishSyncProgress(accountID, folder, current, total)
	if onProgress != nil {
		onProgress(Progress{AccountID: accountID, Folder: folder, Current: current, Total: total})
	}
}

// FetchMessages fetches every message of a folder for display purposes,
// without probing or persisting. Requires a live session.
func (s *Syncer) FetchMessages(ctx context.Context, accountID, folder string) ([]*types.Message, error) {
	sess, ok := s.sessions.Session(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, accountID)
	}

	total, err := sess.SelectReadOnly(folder)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return []*types.Message{}, nil
	}

	messages := make([]*types.Message, 0, total)
	for start := uint32(1); start <= total; start += uint32(s.batchSize) {
		end := start + uint32(s.batchSize) - 1
		if end > total {
			end = total
		}

		raws, err := sess.FetchRange(start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch batch %d:%d of %s: %w", start, end, folder, err)
		}

		for _, raw := range raws {
			msg, err := buildDisplayMessage(accountID, folder, raw)
			if err != nil {
				s.logger.WithError(err).WithField("seq", raw.SeqNum).Debug("Skipping undecodable message")
				continue
			}
			messages = append(messages, msg)
		}
	}

	return messages, nil
}
