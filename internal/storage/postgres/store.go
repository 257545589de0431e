// Package postgres is the production session store, backed by pgxpool.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/storage"
)

const codeUniqueViolation = "23505"

type Config struct {
	Addr string
	User string
	Pass string
	Name string
}

type Store struct {
	db *pgxpool.Pool
}

// Connect opens a pool and pings it.
func Connect(ctx context.Context, c Config) (*Store, error) {
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", c.User, c.Pass, c.Addr, c.Name))
	if err != nil {
		return nil, err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Close() {
	s.db.Close()
}

// Migrate applies embedded migrations not yet recorded in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	ms, err := storage.Migrations()
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(ctx, storage.CreateMigrationsTableStmt); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range ms {
		var n int
		if err := s.db.QueryRow(ctx, storage.MigrationAppliedStmt, m.Name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if n > 0 {
			continue
		}

		err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, storage.RecordMigrationStmt, m.Name, storage.ToMillis(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}

	return nil
}

func (s *Store) InsertSession(ctx context.Context, ss domain.Session) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, storage.InsertSessionStmt, ss.SessionID, storage.ToMillis(ss.StartedAt)); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		return insertParticipants(ctx, tx, ss)
	})

	return classify(err)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	rows, err := s.db.Query(ctx, storage.GetSessionStmt, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	ss, err := storage.CollectSessions(rows)
	if err != nil {
		return nil, classify(err)
	}

	if len(ss) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", sessionID))
	}

	return &ss[0], nil
}

// FinishSession replaces the participants and scores of a session and sets its finish time in one transaction.
func (s *Store) FinishSession(ctx context.Context, ss domain.Session) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, storage.FinishSessionStmt, ss.SessionID, storage.ToMillis(*ss.FinishedAt))
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", ss.SessionID))
		}

		if _, err := tx.Exec(ctx, storage.DeleteParticipantsStmt, ss.SessionID); err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}

		return insertParticipants(ctx, tx, ss)
	})

	return classify(err)
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	rows, err := s.db.Query(ctx, storage.ListSessionsStmt, userID, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	ss, err := storage.CollectSessions(rows)
	if err != nil {
		return nil, classify(err)
	}

	return ss, nil
}

func (s *Store) AggregateLeaderboard(ctx context.Context, policy domain.Policy, scope domain.Scope) ([]domain.LeaderboardEntry, error) {
	stmt, err := storage.LeaderboardStmt(policy, scope.Self)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("%v", err))
	}

	var arg any = scope.Limit
	if scope.Self {
		arg = scope.UserID
	}

	rows, err := s.db.Query(ctx, stmt, arg)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries, err := storage.CollectLeaderboard(rows)
	if err != nil {
		return nil, classify(err)
	}

	return entries, nil
}

func (s *Store) InsertUser(ctx context.Context, u domain.User) error {
	_, err := s.db.Exec(ctx, storage.InsertUserStmt, u.UserID, u.Login, u.Email, u.PasswordHash, storage.ToMillis(u.CreatedAt))

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("user already exists: %s", u.Login),
			errors.WithCause(err))
	}

	return classify(err)
}

func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.getUser(ctx, storage.GetUserStmt, userID)
}

func (s *Store) GetUserByLogin(ctx context.Context, login string) (*domain.User, error) {
	return s.getUser(ctx, storage.GetUserByLoginStmt, login)
}

func (s *Store) getUser(ctx context.Context, stmt, key string) (*domain.User, error) {
	rows, err := s.db.Query(ctx, stmt, key)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	users, err := storage.CollectUsers(rows)
	if err != nil {
		return nil, classify(err)
	}

	if len(users) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("user not found: %s", key))
	}

	return &users[0], nil
}

func (s *Store) ListUsers(ctx context.Context, limit int) ([]domain.User, error) {
	rows, err := s.db.Query(ctx, storage.ListUsersStmt, limit)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	users, err := storage.CollectUsers(rows)
	if err != nil {
		return nil, classify(err)
	}

	return users, nil
}

func insertParticipants(ctx context.Context, tx pgx.Tx, ss domain.Session) error {
	b := &pgx.Batch{}
	for _, r := range storage.ParticipantRows(ss.Participants, ss.Scores) {
		b.Queue(storage.InsertParticipantStmt, ss.SessionID, r.UserID, r.Position, r.Score)
	}

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("insert participants: %w", err)
	}

	return nil
}

// classify maps driver errors onto the error taxonomy. Errors already carrying a code pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var e *errors.Error
	if stderrors.As(err, &e) {
		return err
	}

	var (
		connErr *pgconn.ConnectError
		netErr  net.Error
	)
	switch {
	case stderrors.Is(err, context.DeadlineExceeded),
		stderrors.As(err, &connErr),
		stderrors.As(err, &netErr),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err):
		return errors.Unavailable(err)
	}

	return errors.Internal(err)
}
