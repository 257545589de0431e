package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/api"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/event"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/identity"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/leaderboard"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/session"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/storage/postgres"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/storage/sqlite"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/telemetry"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/user"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type RedisConfig struct {
	// Addrs empty disables the client.
	Addrs  []string
	Pass   string
	Prefix string
}

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Log telemetry.LogConfig

	Telemetry telemetry.TracingConfig

	Storage struct {
		Driver   string
		Postgres postgres.Config
		SQLite   struct {
			Path string
		}
	}

	Redis struct {
		Leaderboard RedisConfig
		Pubsub      RedisConfig
	}

	Auth struct {
		Secret   string
		TokenTTL time.Duration
	}

	CORS struct {
		AllowOrigins []string
	}

	Leaderboard struct {
		PublishInterval time.Duration
	}
}

// DefaultConfig runs everything in-process on a local SQLite file.
func DefaultConfig() Config {
	var c Config
	c.HTTP.Port = 8080
	c.GRPC.Port = 9090
	c.Log = telemetry.LogConfig{Level: "info", Format: "json"}
	c.Telemetry.ServiceName = "clicker-game-backend"
	c.Storage.Driver = DriverSQLite
	c.Storage.SQLite.Path = "clicker.db"
	c.Redis.Leaderboard.Prefix = "clicker"
	c.Redis.Pubsub.Prefix = "clicker"
	c.Auth.TokenTTL = 30 * time.Minute
	c.CORS.AllowOrigins = []string{"*"}
	c.Leaderboard.PublishInterval = 200 * time.Millisecond
	return c
}

// store is what every service needs from persistence.
type store interface {
	session.Store
	leaderboard.Store
	user.Store
	Migrate(ctx context.Context) error
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		store      store
		closeStore func()

		shutdownTracing func(context.Context) error
	}

	service struct {
		oracle      *identity.Oracle
		user        *user.Service
		session     *session.Service
		leaderboard *leaderboard.Service
	}

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	if err := s.initTelemetry(); err != nil {
		return nil, fmt.Errorf("server: init telemetry: %w", err)
	}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		s.release()
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		s.release()
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initTelemetry() error {
	l, err := telemetry.NewLogger(os.Stdout, s.c.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.infra.shutdownTracing, err = telemetry.SetupTracing(ctx, s.c.Telemetry)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	return nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initStore(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(c RedisConfig) (redis.UniversalClient, error) {
		if len(c.Addrs) == 0 {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			_ = r.Close()
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			_ = r.Close()
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initStore() error {
	st, closeStore, err := openStore(s.c)
	if err != nil {
		return err
	}

	s.infra.store = st
	s.infra.closeStore = closeStore
	return nil
}

// Migrate applies pending migrations to the configured store and exits.
func Migrate(c Config) error {
	_, closeStore, err := openStore(c)
	if err != nil {
		return err
	}

	closeStore()
	return nil
}

// openStore connects to the configured driver and applies pending migrations.
func openStore(c Config) (store, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch c.Storage.Driver {
	case DriverPostgres:
		st, err := postgres.Connect(ctx, c.Storage.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}

		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("postgres: migrate: %w", err)
		}

		return st, st.Close, nil

	case DriverSQLite:
		st, err := sqlite.Open(c.Storage.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}

		return st, func() { _ = st.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}
}

func (s *Server) initService() error {
	var err error
	s.service.oracle, err = identity.NewOracle(identity.Config{
		Secret:   s.c.Auth.Secret,
		TokenTTL: s.c.Auth.TokenTTL,
	})
	if err != nil {
		return err
	}

	s.service.user = user.NewService(user.Config{
		Store:  s.infra.store,
		Tokens: s.service.oracle,
	})

	s.service.session = session.NewService(session.Config{
		Store:    s.infra.store,
		EventBus: s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus:        s.eb,
		Store:           s.infra.store,
		Redis:           s.infra.redis.leaderboard,
		Prefix:          s.c.Redis.Leaderboard.Prefix,
		PublishInterval: s.c.Leaderboard.PublishInterval,
	})

	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery(), telemetry.GinMiddleware())
	e.Use(cors.New(s.corsConfig()))
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions()...)

	api.New(api.Config{
		HTTP:         e,
		GRPC:         s.grpc,
		EventBus:     s.eb,
		Oracle:       s.service.oracle,
		User:         s.service.user,
		Session:      s.service.session,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// corsConfig allows credentials only for an explicit origin list; browsers reject them with a wildcard.
func (s *Server) corsConfig() cors.Config {
	cc := cors.DefaultConfig()
	cc.AddAllowHeaders("Authorization")
	cc.MaxAge = 12 * time.Hour

	if len(s.c.CORS.AllowOrigins) == 0 || slices.Contains(s.c.CORS.AllowOrigins, "*") {
		cc.AllowAllOrigins = true
		return cc
	}

	cc.AllowOrigins = s.c.CORS.AllowOrigins
	cc.AllowCredentials = true
	return cc
}

func (s *Server) Start() error {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc server: listen: %w", err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	// A trailing leaderboard publication is itself delivered through the bus.
	s.eb.Stop()
	s.service.leaderboard.Stop()
	s.eb.Stop()

	s.release()
	slog.InfoContext(ctx, "server: shutdown completed")
}

// release closes the infra clients and flushes tracing. Safe on a partially initialized server.
func (s *Server) release() {
	s.closeInfra()

	if s.infra.shutdownTracing == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.infra.shutdownTracing(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown tracing failed", "error", err)
	}
}

func (s *Server) closeInfra() {
	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub} {
		if r != nil {
			_ = r.Close()
		}
	}

	if s.infra.closeStore != nil {
		s.infra.closeStore()
	}
}
