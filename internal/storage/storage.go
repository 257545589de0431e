// Package storage holds the SQL shared by the postgres and sqlite session stores.
// Statements use $N placeholders, which both drivers accept.
//
// Default test runs execute them on sqlite only. The postgres renditions run under
// `go test -tags integration_test ./internal/storage/postgres/...` against STORAGE_POSTGRES_*.
package storage

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	CreateMigrationsTableStmt = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
);`
	MigrationAppliedStmt = `SELECT COUNT(*) FROM schema_migrations WHERE name = $1;`
	RecordMigrationStmt  = `INSERT INTO schema_migrations (name, applied_at) VALUES ($1, $2);`
)

const (
	InsertSessionStmt      = `INSERT INTO sessions (session_id, started_at) VALUES ($1, $2);`
	InsertParticipantStmt  = `INSERT INTO session_participants (session_id, user_id, position, score) VALUES ($1, $2, $3, $4);`
	FinishSessionStmt      = `UPDATE sessions SET finished_at = $2 WHERE session_id = $1;`
	DeleteParticipantsStmt = `DELETE FROM session_participants WHERE session_id = $1;`

	GetSessionStmt = `
SELECT s.session_id, s.started_at, s.finished_at, p.user_id, p.score
FROM sessions s
JOIN session_participants p ON p.session_id = s.session_id
WHERE s.session_id = $1
ORDER BY p.position;`

	// Completed sessions come first, newest finish first. Active sessions follow, newest start first.
	ListSessionsStmt = `
SELECT s.session_id, s.started_at, s.finished_at, p.user_id, p.score
FROM (
	SELECT session_id, started_at, finished_at
	FROM sessions
	WHERE $1 = '' OR session_id IN (SELECT session_id FROM session_participants WHERE user_id = $1)
	ORDER BY (finished_at IS NULL), finished_at DESC, started_at DESC, session_id
	LIMIT $2
) s
JOIN session_participants p ON p.session_id = s.session_id
ORDER BY (s.finished_at IS NULL), s.finished_at DESC, s.started_at DESC, s.session_id, p.position;`
)

const (
	InsertUserStmt = `INSERT INTO users (user_id, login, email, password_hash, created_at) VALUES ($1, $2, $3, $4, $5);`

	GetUserStmt        = `SELECT user_id, login, email, password_hash, created_at FROM users WHERE user_id = $1;`
	GetUserByLoginStmt = `SELECT user_id, login, email, password_hash, created_at FROM users WHERE login = $1;`
	ListUsersStmt      = `SELECT user_id, login, email, password_hash, created_at FROM users ORDER BY created_at, user_id LIMIT $1;`
)

// leaderboardStmt aggregates completed sessions per user in one statement, so the result is a single snapshot.
// Users missing from the users table are dropped by the inner join.
const leaderboardStmt = `
WITH per_user AS (
	SELECT p.user_id,
	       COUNT(*) AS games_played,
	       CAST(SUM(p.score) AS BIGINT) AS total_score,
	       MAX(p.score) AS best_score
	FROM session_participants p
	JOIN sessions s ON s.session_id = p.session_id
	WHERE s.finished_at IS NOT NULL AND p.score IS NOT NULL
	GROUP BY p.user_id
), ranked AS (
	SELECT pu.user_id, u.login, pu.games_played, pu.total_score, pu.best_score,
	       RANK() OVER (ORDER BY pu.%s DESC) AS place
	FROM per_user pu
	JOIN users u ON u.user_id = pu.user_id
)
SELECT user_id, login, games_played, total_score, best_score, place
FROM ranked
%s;`

var policyColumns = map[domain.Policy]string{
	domain.PolicySum:  "total_score",
	domain.PolicyBest: "best_score",
}

// LeaderboardStmt returns the aggregation statement for the policy. The global statement takes the limit
// as $1, the self statement takes the user ID as $1.
func LeaderboardStmt(policy domain.Policy, self bool) (string, error) {
	col, ok := policyColumns[policy]
	if !ok {
		return "", fmt.Errorf("unknown leaderboard policy %q", policy)
	}

	tail := "ORDER BY place, user_id LIMIT $1"
	if self {
		tail = "WHERE user_id = $1 ORDER BY place"
	}

	return fmt.Sprintf(leaderboardStmt, col, tail), nil
}

type Migration struct {
	Name string
	SQL  string
}

// Migrations returns the embedded migrations ordered by file name.
func Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	ms := make([]Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		b, err := fs.ReadFile(migrationsFS, "migrations/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		ms = append(ms, Migration{Name: e.Name(), SQL: string(b)})
	}

	sort.Slice(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
	return ms, nil
}

// Rows is the subset of pgx.Rows and *sql.Rows the collectors need.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// CollectSessions folds (session, participant) rows into sessions, preserving row order.
func CollectSessions(rows Rows) ([]domain.Session, error) {
	var (
		sessions []domain.Session
		index    = make(map[string]int)
	)

	for rows.Next() {
		var (
			id, userID string
			startedAt  int64
			finishedAt *int64
			score      *int64
		)
		if err := rows.Scan(&id, &startedAt, &finishedAt, &userID, &score); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		i, ok := index[id]
		if !ok {
			ss := domain.Session{
				SessionID: id,
				Scores:    make(map[string]int64),
				StartedAt: FromMillis(startedAt),
			}
			if finishedAt != nil {
				t := FromMillis(*finishedAt)
				ss.FinishedAt = &t
			}

			sessions = append(sessions, ss)
			i = len(sessions) - 1
			index[id] = i
		}

		ss := &sessions[i]
		ss.Participants = append(ss.Participants, userID)
		if score != nil {
			ss.Scores[userID] = *score
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// CollectLeaderboard reads rows produced by LeaderboardStmt.
func CollectLeaderboard(rows Rows) ([]domain.LeaderboardEntry, error) {
	entries := make([]domain.LeaderboardEntry, 0)
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.GamesPlayed, &e.TotalScore, &e.BestScore, &e.Rank); err != nil {
			return nil, fmt.Errorf("scan leaderboard entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}

	return entries, nil
}

// CollectUsers reads rows of (user_id, login, email, password_hash, created_at).
func CollectUsers(rows Rows) ([]domain.User, error) {
	users := make([]domain.User, 0)
	for rows.Next() {
		var (
			u         domain.User
			createdAt int64
		)
		if err := rows.Scan(&u.UserID, &u.Login, &u.Email, &u.PasswordHash, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = FromMillis(createdAt)
		users = append(users, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

type ParticipantRow struct {
	UserID   string
	Position int
	Score    *int64
}

// ParticipantRows returns the participant rows to write for a session, in participant order.
// Participants without an entry in scores get a NULL score.
func ParticipantRows(participants []string, scores map[string]int64) []ParticipantRow {
	rows := make([]ParticipantRow, 0, len(participants))
	for i, u := range participants {
		r := ParticipantRow{UserID: u, Position: i}
		if sc, ok := scores[u]; ok {
			r.Score = &sc
		}
		rows = append(rows, r)
	}
	return rows
}

func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func FromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
