package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/event"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/leaderboard"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/session"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/user"
)

type Config struct {
	HTTP        gin.IRouter
	GRPC        *grpc.Server
	EventBus    *event.Bus
	Oracle      Oracle
	User        *user.Service
	Session     *session.Service
	Leaderboard *leaderboard.Service
	// Redis receives pub/sub notifications. Nil disables them.
	Redis        Redis
	PubsubPrefix string
}

// Oracle verifies bearer tokens.
type Oracle interface {
	Verify(token string) (domain.Identity, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	oracle Oracle
	us     *user.Service
	ss     *session.Service
	ls     *leaderboard.Service

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		oracle: c.Oracle,
		us:     c.User,
		ss:     c.Session,
		ls:     c.Leaderboard,
		redis:  c.Redis,
		prefix: c.PubsubPrefix,
	}

	// HTTP APIs
	if c.HTTP != nil {
		a.registerHTTP(c.HTTP)
	}

	// gRPC APIs
	if c.GRPC != nil {
		registerGameServiceServer(c.GRPC, a)
	}

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
			return a.PublishSessionFinished(ctx, e.(domain.EventSessionFinished))
		})

		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

type identityKey struct{}

func withIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFrom(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}
