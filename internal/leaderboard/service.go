package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/event"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100

	defaultPublishInterval = 200 * time.Millisecond
	recheckTimeout         = 10 * time.Second
)

// releaseScript ends a publish window. If a finish marked the board dirty during the window, the dirty
// mark is consumed and the window is extended; otherwise the window lock is released.
var releaseScript = redis.NewScript(`
if redis.call("DEL", KEYS[2]) == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	return 1
end
redis.call("DEL", KEYS[1])
return 0
`)

var computeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "clicker",
	Name:      "leaderboard_compute_seconds",
	Help:      "Time spent aggregating a leaderboard, by policy and scope.",
	Buckets:   prometheus.DefBuckets,
}, []string{"policy", "scope"})

// Store runs the aggregation over completed sessions as a single read.
type Store interface {
	AggregateLeaderboard(ctx context.Context, policy domain.Policy, scope domain.Scope) ([]domain.LeaderboardEntry, error)
}

type Config struct {
	EventBus *event.Bus
	Store    Store
	// Redis coordinates publication of leaderboard.updated across instances. Nil disables publication.
	Redis           redis.UniversalClient
	Prefix          string
	PublishInterval time.Duration
}

type Service struct {
	eb       *event.Bus
	store    Store
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	pending  sync.WaitGroup
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		store:    c.Store,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.PublishInterval,
		stop:     make(chan struct{}),
	}

	if s.interval <= 0 {
		s.interval = defaultPublishInterval
	}

	if s.redis != nil {
		s.eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
			return s.SchedulePublish(ctx, e.(domain.EventSessionFinished))
		})
	}

	return s
}

type ComputeRequest struct {
	Policy domain.Policy
	Scope  domain.Scope
}

// Compute ranks users by the policy's aggregate over their completed sessions.
// Ties share a rank (1, 2, 2, 4). A global scope is truncated after ranking; a self scope returns the
// user's entry from the full ranking, or CodeNotFound when the user has no completed game.
func (s *Service) Compute(ctx context.Context, req ComputeRequest) (*domain.Leaderboard, error) {
	scope, err := validate(req)
	if err != nil {
		return nil, err
	}

	scopeLabel := "global"
	if scope.Self {
		scopeLabel = "self"
	}
	defer prometheus.NewTimer(computeDuration.WithLabelValues(string(req.Policy), scopeLabel)).ObserveDuration()

	entries, err := s.store.AggregateLeaderboard(ctx, req.Policy, scope)
	if err != nil {
		return nil, fmt.Errorf("aggregate leaderboard: %w", err)
	}

	if scope.Self && len(entries) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("no completed games for user: %s", scope.UserID))
	}

	for i := range entries {
		entries[i].AverageScore = average(entries[i].TotalScore, entries[i].GamesPlayed)
	}

	return &domain.Leaderboard{
		Policy:  req.Policy,
		Entries: entries,
	}, nil
}

// SchedulePublish publishes leaderboard.updated at most once per interval, on both edges of the
// window. The first finish in a window takes the Redis lock and publishes right away. Later finishes
// only mark the board dirty; when the window closes, the lock holder publishes again if it is dirty.
func (s *Service) SchedulePublish(ctx context.Context, e domain.EventSessionFinished) error {
	if err := s.redis.Set(ctx, s.dirtyKey(), e.Session.SessionID, s.lockTTL()).Err(); err != nil {
		return fmt.Errorf("mark dirty: %w", err)
	}

	ok, err := s.redis.SetNX(ctx, s.lockKey(), e.Session.SessionID, s.lockTTL()).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	defer s.scheduleRecheck(ctx)

	if err := s.redis.Del(ctx, s.dirtyKey()).Err(); err != nil {
		return fmt.Errorf("clear dirty: %w", err)
	}

	return s.publish(ctx)
}

// Stop ends pending publish windows early, publishing any finish they absorbed, and waits for them.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.pending.Wait()
}

func (s *Service) scheduleRecheck(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()

		t := time.NewTimer(s.interval)
		defer t.Stop()

		select {
		case <-t.C:
		case <-s.stop:
		}

		ctx, cancel := context.WithTimeout(ctx, recheckTimeout)
		defer cancel()

		if err := s.recheck(ctx); err != nil {
			slog.ErrorContext(ctx, "leaderboard: trailing publish failed", "error", err)
		}
	}()
}

// recheck closes the current window. While stopping it keeps publishing until the board is clean,
// otherwise a dirty board opens the next window.
func (s *Service) recheck(ctx context.Context) error {
	for {
		dirty, err := releaseScript.Run(ctx, s.redis, []string{s.lockKey(), s.dirtyKey()}, s.lockTTL().Milliseconds()).Int()
		if err != nil {
			return fmt.Errorf("release window: %w", err)
		}

		if dirty == 0 {
			return nil
		}

		err = s.publish(ctx)

		select {
		case <-s.stop:
			if err != nil {
				return err
			}
		default:
			s.scheduleRecheck(ctx)
			return err
		}
	}
}

func (s *Service) publish(ctx context.Context) error {
	l, err := s.Compute(ctx, ComputeRequest{
		Policy: domain.PolicySum,
		Scope:  domain.Global(DefaultLimit),
	})
	if err != nil {
		return fmt.Errorf("compute leaderboard: %w", err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

// lockTTL bounds a window whose holder died before releasing it.
func (s *Service) lockTTL() time.Duration {
	return 10 * s.interval
}

func (s *Service) lockKey() string {
	return fmt.Sprintf("%s:leaderboard:publish", s.prefix)
}

func (s *Service) dirtyKey() string {
	return fmt.Sprintf("%s:leaderboard:dirty", s.prefix)
}

func validate(req ComputeRequest) (domain.Scope, error) {
	scope := req.Scope

	if !req.Policy.Valid() {
		return scope, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("unknown leaderboard policy: %q", req.Policy))
	}

	if scope.Self {
		if scope.UserID == "" {
			return scope, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("user_id is required for a self leaderboard"))
		}
		return scope, nil
	}

	switch {
	case scope.Limit == 0:
		scope.Limit = DefaultLimit
	case scope.Limit < 0 || scope.Limit > MaxLimit:
		return scope, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("limit must be between 1 and %d", MaxLimit))
	}

	return scope, nil
}

func average(total, games int64) decimal.Decimal {
	if games == 0 {
		return decimal.Zero
	}

	return decimal.NewFromInt(total).Div(decimal.NewFromInt(games)).Round(2)
}
