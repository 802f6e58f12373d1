package audit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/orchestra/pkg/orchestra/event"
	"github.com/randalmurphal/orchestra/pkg/orchestra/observability"
)

// ReplaySession is a snapshot of session history that can be re-emitted.
// It shares nothing with the live trace.
type ReplaySession struct {
	ID        string        `json:"id"`
	SessionID string        `json:"sessionId"`
	TenantID  string        `json:"tenantId"`
	UserID    string        `json:"userId,omitempty"`
	Events    []event.Event `json:"events"`
	// StartTime and EndTime are epoch milliseconds.
	StartTime int64 `json:"startTime"`
	EndTime   int64 `json:"endTime,omitempty"`
	// Duration is set only when the filter bounds both ends.
	Duration time.Duration `json:"duration,omitempty"`
}

func (r ReplaySession) clone() ReplaySession {
	r.Events = slices.Clone(r.Events)
	return r
}

// ReplayOptions controls playback.
type ReplayOptions struct {
	// Speed divides the original gaps between events. Values <= 0 mean 1.
	Speed float64
	// StartFrom skips the first StartFrom events.
	StartFrom int
}

// CreateReplaySession snapshots the filtered history of a session.
func (s *Service) CreateReplaySession(ctx context.Context, sessionID, tenantID string, f HistoryFilter) (ReplaySession, error) {
	events, err := s.GetEventHistory(ctx, sessionID, f)
	if err != nil {
		return ReplaySession{}, err
	}

	now := time.Now()
	r := ReplaySession{
		ID:        newReplayID(sessionID, now),
		SessionID: sessionID,
		TenantID:  tenantID,
		Events:    events,
		StartTime: f.StartTime,
		EndTime:   f.EndTime,
	}
	if len(events) > 0 {
		r.UserID = events[0].UserID
		if r.StartTime == 0 {
			r.StartTime = events[0].Timestamp
		}
		if r.EndTime == 0 {
			r.EndTime = events[len(events)-1].Timestamp
		}
	}
	if r.StartTime == 0 {
		r.StartTime = now.UnixMilli()
	}
	if f.StartTime > 0 && f.EndTime > 0 {
		r.Duration = time.Duration(f.EndTime-f.StartTime) * time.Millisecond
	}

	s.mu.Lock()
	s.replays[r.ID] = r
	s.mu.Unlock()

	s.logger.Info("replay session created",
		slog.String("replay_id", r.ID),
		slog.String("session_id", sessionID),
		slog.Int("events", len(events)),
	)
	return r.clone(), nil
}

// GetReplaySession returns a copy of a stored replay.
func (s *Service) GetReplaySession(id string) (ReplaySession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.replays[id]
	if !ok {
		return ReplaySession{}, false
	}
	return r.clone(), true
}

// Replay re-emits a replay session's events in order, pausing between
// consecutive events for their original timestamp gap divided by the speed.
// Each re-emitted event carries the replay ID in its metadata. Cancelling
// ctx stops playback and returns ctx.Err().
func (s *Service) Replay(ctx context.Context, id string, opts ReplayOptions) (err error) {
	r, ok := s.GetReplaySession(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrReplayNotFound, id)
	}

	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}
	events := r.Events[min(max(opts.StartFrom, 0), len(r.Events)):]

	ctx, span := s.spans.StartReplaySpan(ctx, id, len(events))
	defer func() { s.spans.EndSpanWithError(span, err) }()

	s.logger.Info("replay started",
		slog.String("replay_id", id),
		slog.Int("events", len(events)),
		slog.Float64("speed", speed),
	)
	elapsed := observability.TimedOperation()

	for i, evt := range events {
		if err := s.bus.Emit(ctx, evt.WithMeta(event.MetaReplayID, id)); err != nil {
			return fmt.Errorf("audit: replay %s event %s: %w", id, evt.ID, err)
		}
		if i == len(events)-1 {
			break
		}
		gap := time.Duration(float64(events[i+1].Timestamp-evt.Timestamp) / speed * float64(time.Millisecond))
		if gap <= 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(gap):
		}
	}

	d := time.Duration(elapsed() * float64(time.Millisecond))
	s.metrics.RecordReplay(ctx, len(events), d)
	s.logger.Info("replay completed",
		slog.String("replay_id", id),
		slog.Duration("took", d),
	)
	return nil
}

func newReplayID(sessionID string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("replay-%s-%d-%s", sessionID, now.UnixMilli(), suffix)
}
