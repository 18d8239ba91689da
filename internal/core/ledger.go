// ABOUTME: Append-only turn ledger with dense per-conversation indices
// ABOUTME: Index collisions from concurrent writers are retried with a fresh index
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
	"github.com/harper/recall/internal/util"
)

// maxConflictDelay caps the pause between index collision retries
const maxConflictDelay = 50 * time.Millisecond

// LedgerStore is the storage the ledger needs
type LedgerStore interface {
	storage.UserStore
	storage.TurnStore
}

// TurnLedger appends and reads conversation turns
type TurnLedger struct {
	store     LedgerStore
	retries   int
	baseDelay time.Duration
	metrics   *Metrics
	now       func() time.Time
}

// NewTurnLedger creates a ledger retrying index conflicts up to retries times
func NewTurnLedger(store LedgerStore, retries int, metrics *Metrics) *TurnLedger {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &TurnLedger{
		store:     store,
		retries:   retries,
		baseDelay: 5 * time.Millisecond,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Append stores a turn at the next free index of the conversation
func (l *TurnLedger) Append(ctx context.Context, userID, conversationID string, role models.Role, content string) (models.Turn, error) {
	if err := validateIDs(userID, conversationID); err != nil {
		return models.Turn{}, err
	}
	role, err := models.ParseRole(string(role))
	if err != nil {
		return models.Turn{}, err
	}
	if strings.TrimSpace(content) == "" {
		return models.Turn{}, fmt.Errorf("%w: content cannot be empty", models.ErrInvalidArgument)
	}

	if err := l.store.EnsureUser(ctx, userID); err != nil {
		return models.Turn{}, fmt.Errorf("failed to ensure user: %w", err)
	}

	var turn models.Turn
	for attempt := 0; ; attempt++ {
		next, err := l.store.NextTurnIndex(ctx, userID, conversationID)
		if err != nil {
			return models.Turn{}, fmt.Errorf("failed to read next turn index: %w", err)
		}
		turn = models.Turn{
			UserID:         userID,
			ConversationID: conversationID,
			TurnIndex:      next,
			Role:           role,
			Content:        content,
			CreatedAt:      l.now(),
		}
		err = l.store.InsertTurn(ctx, &turn)
		if err == nil {
			break
		}
		if !errors.Is(err, models.ErrConflict) || attempt >= l.retries {
			return models.Turn{}, fmt.Errorf("failed to append turn: %w", err)
		}

		l.metrics.ConflictRetries.Inc()
		delay := util.CalculateBackoff(l.baseDelay, attempt+1)
		if delay > maxConflictDelay {
			delay = maxConflictDelay
		}
		if err := util.Sleep(ctx, delay); err != nil {
			return models.Turn{}, err
		}
	}

	l.metrics.TurnsAppended.Inc()
	return turn, nil
}

// Range returns turns lo..hi inclusive in index order
func (l *TurnLedger) Range(ctx context.Context, userID, conversationID string, lo, hi int) ([]models.Turn, error) {
	if err := validateIDs(userID, conversationID); err != nil {
		return nil, err
	}
	if lo < 0 || hi < lo {
		return nil, fmt.Errorf("%w: bad range [%d,%d]", models.ErrInvalidArgument, lo, hi)
	}
	return l.store.TurnRange(ctx, userID, conversationID, lo, hi)
}

func validateIDs(userID, conversationID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user_id is required", models.ErrInvalidArgument)
	}
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation_id is required", models.ErrInvalidArgument)
	}
	return nil
}
