// Package sqlite provides a SQLite-backed session store for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/storage"
)

// Store persists sessions and users in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies embedded migrations not yet recorded in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	ms, err := storage.Migrations()
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, storage.CreateMigrationsTableStmt); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range ms {
		var n int
		if err := s.db.QueryRowContext(ctx, storage.MigrationAppliedStmt, m.Name).Scan(&n); err != nil {
			return fmt.Errorf("check migration %s: %w", m.Name, err)
		}
		if n > 0 {
			continue
		}

		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, storage.RecordMigrationStmt, m.Name, storage.ToMillis(time.Now()))
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
	}

	return nil
}

func (s *Store) InsertSession(ctx context.Context, ss domain.Session) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, storage.InsertSessionStmt, ss.SessionID, storage.ToMillis(ss.StartedAt)); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		return insertParticipants(ctx, tx, ss)
	})

	return classify(err)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, storage.GetSessionStmt, sessionID)
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
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, storage.FinishSessionStmt, ss.SessionID, storage.ToMillis(*ss.FinishedAt))
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		if n == 0 {
			return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", ss.SessionID))
		}

		if _, err := tx.ExecContext(ctx, storage.DeleteParticipantsStmt, ss.SessionID); err != nil {
			return fmt.Errorf("delete participants: %w", err)
		}

		return insertParticipants(ctx, tx, ss)
	})

	return classify(err)
}

func (s *Store) ListSessions(ctx context.Context, userID string, limit int) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, storage.ListSessionsStmt, userID, limit)
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

	rows, err := s.db.QueryContext(ctx, stmt, arg)
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
	_, err := s.db.ExecContext(ctx, storage.InsertUserStmt, u.UserID, u.Login, u.Email, u.PasswordHash, storage.ToMillis(u.CreatedAt))
	if isUniqueViolation(err) {
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
	rows, err := s.db.QueryContext(ctx, stmt, key)
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
	rows, err := s.db.QueryContext(ctx, storage.ListUsersStmt, limit)
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

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback())
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func insertParticipants(ctx context.Context, tx *sql.Tx, ss domain.Session) error {
	for _, r := range storage.ParticipantRows(ss.Participants, ss.Scores) {
		if _, err := tx.ExecContext(ctx, storage.InsertParticipantStmt, ss.SessionID, r.UserID, r.Position, r.Score); err != nil {
			return fmt.Errorf("insert participant %s: %w", r.UserID, err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !stderrors.As(err, &sqliteErr) {
		return false
	}

	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}

	return false
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

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, sql.ErrConnDone) {
		return errors.Unavailable(err)
	}

	var sqliteErr *msqlite.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED, sqlite3lib.SQLITE_CANTOPEN, sqlite3lib.SQLITE_IOERR:
			return errors.Unavailable(err)
		}
	}

	return errors.Internal(err)
}
