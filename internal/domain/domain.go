package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session represents one playthrough being scored.
// A session is active while FinishedAt is nil and completed once it is set.
type Session struct {
	SessionID    string
	Participants []string
	// Scores is empty while the session is active. Once completed its keys equal Participants.
	Scores     map[string]int64
	StartedAt  time.Time
	FinishedAt *time.Time
}

func (s Session) Completed() bool {
	return s.FinishedAt != nil
}

// User is a registered player. Login doubles as the display name.
type User struct {
	UserID       string
	Login        string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Identity is what the identity oracle yields for a verified token.
type Identity struct {
	UserID      string
	DisplayName string
}

// Policy selects the aggregate a leaderboard is ordered by.
type Policy string

const (
	PolicySum  Policy = "sum"
	PolicyBest Policy = "best"
)

func (p Policy) Valid() bool {
	return p == PolicySum || p == PolicyBest
}

// Scope selects which part of the ranked list is returned.
// With Self set it is the single entry of UserID, otherwise the global top Limit entries.
type Scope struct {
	Limit  int
	UserID string
	Self   bool
}

func Global(limit int) Scope {
	return Scope{Limit: limit}
}

func Self(userID string) Scope {
	return Scope{UserID: userID, Self: true}
}

// LeaderboardEntry is a per-user rollup over completed sessions. It is derived, never stored.
type LeaderboardEntry struct {
	UserID       string
	DisplayName  string
	GamesPlayed  int64
	TotalScore   int64
	BestScore    int64
	AverageScore decimal.Decimal
	Rank         int64
}

// Leaderboard is a list of entries sorted by rank.
type Leaderboard struct {
	Policy  Policy
	Entries []LeaderboardEntry
}
