package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/event"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

var (
	startedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clicker",
		Name:      "sessions_started_total",
		Help:      "Number of game sessions started.",
	})

	finishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clicker",
		Name:      "sessions_finished_total",
		Help:      "Number of finish calls applied, labelled by whether they overwrote an earlier finish.",
	}, []string{"overwrite"})
)

// Store is the session document store. Only this service writes to it.
type Store interface {
	InsertSession(ctx context.Context, ss domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	FinishSession(ctx context.Context, ss domain.Session) error
	ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error)
}

type Config struct {
	Store    Store
	EventBus *event.Bus
	// Now is used in tests to pin the clock.
	Now func() time.Time
}

type Service struct {
	store Store
	eb    *event.Bus
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		now:   c.Now,
	}

	if s.now == nil {
		s.now = time.Now
	}

	return s
}

// StartRequest represents a request to start a new game session.
type StartRequest struct {
	// UserID is the verified identity of the player starting the game.
	UserID string
}

// Start creates a new active session owned by the user.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.Session, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user_id is required"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	ss := domain.Session{
		SessionID:    id.String(),
		Participants: []string{req.UserID},
		Scores:       map[string]int64{},
		StartedAt:    s.timestamp(nil),
	}

	if err := s.store.InsertSession(ctx, ss); err != nil {
		return nil, err
	}

	startedTotal.Inc()
	s.eb.Publish(ctx, domain.EventSessionStarted{Session: ss})

	return &ss, nil
}

type GetSessionRequest struct {
	SessionID string
}

// GetSession returns the session, or an error with CodeNotFound when it does not exist.
func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*domain.Session, error) {
	if req.SessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("session_id is required"))
	}

	return s.store.GetSession(ctx, req.SessionID)
}

type FinishRequest struct {
	SessionID string
	// Scores is the complete final score of every participant. It replaces any earlier score state.
	Scores map[string]int64
	// FinishedAt defaults to the server clock.
	FinishedAt *time.Time
}

// Finish completes a session with its final scores. Calling it again on a completed session
// overwrites the scores and finish time; concurrent calls are last-writer-wins.
func (s *Service) Finish(ctx context.Context, req FinishRequest) (*domain.Session, error) {
	if req.SessionID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("session_id is required"))
	}

	if len(req.Scores) == 0 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("scores must contain at least one participant"))
	}

	for u := range req.Scores {
		if strings.TrimSpace(u) == "" {
			return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("scores contain an empty user_id"))
		}
	}

	cur, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	finishedAt := s.timestamp(req.FinishedAt)
	ss := domain.Session{
		SessionID:    cur.SessionID,
		Participants: mergeParticipants(cur.Participants, req.Scores),
		Scores:       req.Scores,
		StartedAt:    cur.StartedAt,
		FinishedAt:   &finishedAt,
	}

	if err := s.store.FinishSession(ctx, ss); err != nil {
		return nil, err
	}

	overwritten := cur.Completed()
	if overwritten {
		slog.WarnContext(ctx, "session: finish overwrote a completed session",
			"session_id", ss.SessionID,
			"previous_finished_at", *cur.FinishedAt,
		)
	}
	finishedTotal.WithLabelValues(fmt.Sprint(overwritten)).Inc()

	s.eb.Publish(ctx, domain.EventSessionFinished{
		Session:     ss,
		Overwritten: overwritten,
	})

	return &ss, nil
}

type ListSessionsRequest struct {
	// UserID restricts the list to sessions the user participates in. Empty means all sessions.
	UserID string
	Limit  int
}

// ListSessions returns completed sessions newest finish first, followed by active sessions newest start first.
func (s *Service) ListSessions(ctx context.Context, req ListSessionsRequest) ([]domain.Session, error) {
	limit := req.Limit
	switch {
	case limit == 0:
		limit = defaultListLimit
	case limit < 0 || limit > maxListLimit:
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must be between 1 and %d", maxListLimit))
	}

	return s.store.ListSessions(ctx, req.UserID, limit)
}

// timestamp truncates to the store's millisecond precision so values round-trip unchanged.
func (s *Service) timestamp(t *time.Time) time.Time {
	v := s.now()
	if t != nil {
		v = *t
	}

	return v.UTC().Truncate(time.Millisecond)
}

// mergeParticipants returns the keys of scores, keeping the existing participant order and
// appending newcomers in lexical order.
func mergeParticipants(current []string, scores map[string]int64) []string {
	out := make([]string, 0, len(scores))
	for _, u := range current {
		if _, ok := scores[u]; ok && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}

	var added []string
	for u := range scores {
		if !slices.Contains(out, u) {
			added = append(added, u)
		}
	}
	sort.Strings(added)

	return append(out, added...)
}
