// ABOUTME: Compacts ledger turns into overlapping windows of rendered text
// ABOUTME: Maintains one open draft per conversation and seals it by size, role or idleness
package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/harper/recall/internal/config"
	"github.com/harper/recall/internal/logging"
	"github.com/harper/recall/internal/models"
	"github.com/harper/recall/internal/storage"
)

// BuilderStore is the storage the window builder needs
type BuilderStore interface {
	storage.TurnStore
	storage.WindowStore
}

// Seal reasons reported in WINDOW_SEALED events
const (
	SealBySize = "size"
	SealByRole = "role"
	SealByIdle = "idle"
)

// BuildReport summarises one Build call
type BuildReport struct {
	TestGroup      int      `json:"test_group"`
	TurnsProcessed int      `json:"turns_processed"`
	DraftID        string   `json:"draft_id,omitempty"`
	Sealed         []string `json:"sealed,omitempty"`
}

// ReconcileReport summarises one Rebuild call
type ReconcileReport struct {
	Unchanged int         `json:"unchanged"`
	Replaced  int         `json:"replaced"`
	Deleted   int         `json:"deleted"`
	Build     BuildReport `json:"build"`
}

// WindowBuilder turns ledger turns into windows
type WindowBuilder struct {
	store     BuilderStore
	cfg       *config.Config
	locks     *keyedMutex
	telemetry *TelemetrySink
	metrics   *Metrics
	onSealed  func(windowIDs ...string)
	now       func() time.Time
}

// NewWindowBuilder creates a builder. locks may be shared with the ledger so
// appends and builds of one conversation are serialised together.
func NewWindowBuilder(store BuilderStore, cfg *config.Config, locks *keyedMutex, telemetry *TelemetrySink, metrics *Metrics) *WindowBuilder {
	if locks == nil {
		locks = newKeyedMutex()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &WindowBuilder{
		store:     store,
		cfg:       cfg,
		locks:     locks,
		telemetry: telemetry,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnSealed registers a callback receiving the ids of windows that became pending
func (b *WindowBuilder) OnSealed(fn func(windowIDs ...string)) {
	b.onSealed = fn
}

// Build processes every turn after the highest covered index
func (b *WindowBuilder) Build(ctx context.Context, userID, conversationID string) (BuildReport, error) {
	if err := validateIDs(userID, conversationID); err != nil {
		return BuildReport{}, err
	}
	unlock := b.locks.Lock(conversationKey(userID, conversationID))
	defer unlock()
	return b.buildLocked(ctx, userID, conversationID)
}

// conversationState is the window layout of a conversation as stored
type conversationState struct {
	group      int
	covered    int
	draft      *models.Window
	lastSealed *models.Window
}

func (b *WindowBuilder) loadState(ctx context.Context, userID, conversationID string) (conversationState, error) {
	windows, err := b.store.ConversationWindows(ctx, userID, conversationID)
	if err != nil {
		return conversationState{}, fmt.Errorf("failed to load windows: %w", err)
	}

	st := conversationState{covered: -1}
	if len(windows) == 0 {
		st.group = AssignTestGroup(userID, conversationID, b.cfg.Arms)
		return st, nil
	}
	st.group = windows[0].TestGroup
	for i := range windows {
		w := windows[i]
		if w.EndIndex > st.covered {
			st.covered = w.EndIndex
		}
		if w.State == models.WindowDraft {
			st.draft = &w
			continue
		}
		if st.lastSealed == nil || w.EndIndex > st.lastSealed.EndIndex {
			st.lastSealed = &w
		}
	}
	return st, nil
}

func (b *WindowBuilder) buildLocked(ctx context.Context, userID, conversationID string) (BuildReport, error) {
	var report BuildReport

	st, err := b.loadState(ctx, userID, conversationID)
	if err != nil {
		return report, err
	}
	report.TestGroup = st.group
	next, err := b.store.NextTurnIndex(ctx, userID, conversationID)
	if err != nil {
		return report, fmt.Errorf("failed to read next turn index: %w", err)
	}
	if next-1 <= st.covered {
		if st.draft != nil {
			report.DraftID = st.draft.WindowID
		}
		return report, nil
	}

	size, stride := b.cfg.WindowParams(st.group)
	lo := st.covered + 1
	switch {
	case st.draft != nil:
		lo = st.draft.StartIndex
	case st.lastSealed != nil:
		lo = nextStart(st.lastSealed, stride)
	}
	turns, err := b.store.TurnRange(ctx, userID, conversationID, lo, next-1)
	if err != nil {
		return report, fmt.Errorf("failed to load turns: %w", err)
	}
	for i, t := range turns {
		if t.TurnIndex != lo+i {
			return report, fmt.Errorf("ledger gap at index %d in %s/%s", lo+i, userID, conversationID)
		}
	}
	hi := lo + len(turns) - 1

	draft := st.draft
	dirty := false
	for i := st.covered + 1; i <= hi; i++ {
		if draft == nil {
			start := 0
			if st.lastSealed != nil {
				start = nextStart(st.lastSealed, stride)
			}
			draft = &models.Window{
				WindowID:       uuid.NewString(),
				UserID:         userID,
				ConversationID: conversationID,
				StartIndex:     start,
				State:          models.WindowDraft,
				TestGroup:      st.group,
				CreatedAt:      b.now(),
			}
		}
		draft.EndIndex = i
		draft.TurnCount = i - draft.StartIndex + 1
		dirty = true
		report.TurnsProcessed++

		reason := ""
		switch {
		case draft.TurnCount >= size:
			reason = SealBySize
		case b.cfg.SealOnRole != "" && string(turns[i-lo].Role) == b.cfg.SealOnRole:
			reason = SealByRole
		}
		if reason == "" {
			continue
		}

		draft.State = models.WindowPending
		if err := b.persist(ctx, draft, turns[draft.StartIndex-lo:i-lo+1]); err != nil {
			return report, err
		}
		b.sealed(draft, reason)
		report.Sealed = append(report.Sealed, draft.WindowID)
		st.lastSealed = draft
		draft = nil
		dirty = false
	}

	if draft != nil {
		report.DraftID = draft.WindowID
		if dirty {
			if err := b.persist(ctx, draft, turns[draft.StartIndex-lo:draft.EndIndex-lo+1]); err != nil {
				return report, err
			}
		}
	}

	if len(report.Sealed) > 0 && b.onSealed != nil {
		b.onSealed(report.Sealed...)
	}
	return report, nil
}

// nextStart is where the window after sealed begins: it overlaps sealed by
// stride turns but always advances by at least one
func nextStart(sealed *models.Window, stride int) int {
	overlap := stride
	if overlap > sealed.TurnCount-1 {
		overlap = sealed.TurnCount - 1
	}
	return sealed.EndIndex + 1 - overlap
}

// persist renders the window from its turns and saves it
func (b *WindowBuilder) persist(ctx context.Context, w *models.Window, turns []models.Turn) error {
	fill(w, turns)
	if err := b.store.SaveWindow(ctx, w); err != nil {
		return fmt.Errorf("failed to save window %s: %w", w.Span(), err)
	}
	return nil
}

// fill sets the rendered text, hash and turn timestamps of w
func fill(w *models.Window, turns []models.Turn) {
	w.Text = RenderWindow(turns)
	w.TextHash = TextHash(w.Text)
	if len(turns) > 0 {
		w.FirstTurnAt = turns[0].CreatedAt
		w.LastTurnAt = turns[len(turns)-1].CreatedAt
	}
}

func (b *WindowBuilder) sealed(w *models.Window, reason string) {
	b.metrics.WindowsSealed.WithLabelValues(strconv.Itoa(w.TestGroup)).Inc()
	b.telemetry.Record(w.UserID, w.TestGroup, models.EventWindowSealed, map[string]interface{}{
		"window_id":       w.WindowID,
		"conversation_id": w.ConversationID,
		"start_index":     w.StartIndex,
		"end_index":       w.EndIndex,
		"reason":          reason,
	}, nil)
	logging.For("builder").WithFields(log.Fields{
		"window_id": w.WindowID,
		"span":      w.Span(),
		"reason":    reason,
	}).Debug("window sealed")
}

// SealIdle seals drafts whose last turn is older than olderThan
func (b *WindowBuilder) SealIdle(ctx context.Context, olderThan time.Duration) ([]string, error) {
	drafts, err := b.store.IdleDrafts(ctx, b.now().Add(-olderThan), b.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list idle drafts: %w", err)
	}

	var sealed []string
	for _, d := range drafts {
		ok, err := b.sealIdleDraft(ctx, d, olderThan)
		if err != nil {
			return sealed, err
		}
		if ok {
			sealed = append(sealed, d.WindowID)
		}
	}
	if len(sealed) > 0 && b.onSealed != nil {
		b.onSealed(sealed...)
	}
	return sealed, nil
}

func (b *WindowBuilder) sealIdleDraft(ctx context.Context, d models.Window, olderThan time.Duration) (bool, error) {
	unlock := b.locks.Lock(conversationKey(d.UserID, d.ConversationID))
	defer unlock()

	// the draft may have grown or sealed since it was listed
	w, err := b.store.GetWindow(ctx, d.WindowID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if w.State != models.WindowDraft || !w.LastTurnAt.Before(b.now().Add(-olderThan)) {
		return false, nil
	}

	w.State = models.WindowPending
	if err := b.store.SaveWindow(ctx, w); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return false, nil
		}
		return false, fmt.Errorf("failed to seal idle window %s: %w", w.WindowID, err)
	}
	b.sealed(w, SealByIdle)
	return true, nil
}

// Rebuild re-renders every window of a conversation from the ledger, then
// catches up on unprocessed turns
func (b *WindowBuilder) Rebuild(ctx context.Context, userID, conversationID string) (ReconcileReport, error) {
	var report ReconcileReport
	if err := validateIDs(userID, conversationID); err != nil {
		return report, err
	}
	unlock := b.locks.Lock(conversationKey(userID, conversationID))
	defer unlock()

	windows, err := b.store.ConversationWindows(ctx, userID, conversationID)
	if err != nil {
		return report, fmt.Errorf("failed to load windows: %w", err)
	}

	var replaced []string
	for i := range windows {
		w := windows[i]
		turns, err := b.store.TurnRange(ctx, userID, conversationID, w.StartIndex, w.EndIndex)
		if err != nil {
			return report, fmt.Errorf("failed to load turns for %s: %w", w.Span(), err)
		}
		if len(turns) != w.TurnCount {
			if err := b.store.DeleteWindow(ctx, w.WindowID); err != nil {
				return report, fmt.Errorf("failed to delete orphaned window %s: %w", w.Span(), err)
			}
			report.Deleted++
			continue
		}

		text := RenderWindow(turns)
		if TextHash(text) == w.TextHash {
			report.Unchanged++
			continue
		}

		if w.State == models.WindowDraft {
			if err := b.persist(ctx, &w, turns); err != nil {
				return report, err
			}
			report.Replaced++
			continue
		}

		// sealed rows never move back, so a stale one is swapped for a new pending row
		if err := b.store.DeleteWindow(ctx, w.WindowID); err != nil {
			return report, fmt.Errorf("failed to delete stale window %s: %w", w.Span(), err)
		}
		fresh := w
		fresh.WindowID = uuid.NewString()
		fresh.State = models.WindowPending
		fresh.Embedding = nil
		fresh.EmbedAttempts = 0
		fresh.EmbedError = ""
		fresh.CreatedAt = b.now()
		if err := b.persist(ctx, &fresh, turns); err != nil {
			return report, err
		}
		replaced = append(replaced, fresh.WindowID)
		report.Replaced++
	}

	if len(replaced) > 0 && b.onSealed != nil {
		b.onSealed(replaced...)
	}

	build, err := b.buildLocked(ctx, userID, conversationID)
	report.Build = build
	if err != nil {
		return report, err
	}

	group := AssignTestGroup(userID, conversationID, b.cfg.Arms)
	if len(windows) > 0 {
		group = windows[0].TestGroup
	}
	b.telemetry.Record(userID, group, models.EventConversationRebuilt, map[string]interface{}{
		"conversation_id": conversationID,
		"unchanged":       report.Unchanged,
		"replaced":        report.Replaced,
		"deleted":         report.Deleted,
		"sealed":          len(build.Sealed),
	}, nil)
	return report, nil
}
