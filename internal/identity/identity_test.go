package identity_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/identity"
)

func TestOracle_IssueVerify(t *testing.T) {
	o := makeOracle(t, "secret", time.Now)

	token, err := o.Issue(domain.User{UserID: "u1", Login: "player"})
	require.NoError(t, err)

	id, err := o.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{UserID: "u1", DisplayName: "player"}, id)
}

func TestOracle_Verify_Rejects(t *testing.T) {
	now := time.Date(2026, time.January, 1, 12, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		arrange func(t *testing.T) string
	}{
		"garbage": {
			arrange: func(*testing.T) string { return "not-a-token" },
		},
		"wrong secret": {
			arrange: func(t *testing.T) string {
				token, err := makeOracle(t, "other", func() time.Time { return now }).Issue(domain.User{UserID: "u1"})
				require.NoError(t, err)
				return token
			},
		},
		"expired": {
			arrange: func(t *testing.T) string {
				past := func() time.Time { return now.Add(-time.Hour) }
				token, err := makeOracle(t, "secret", past).Issue(domain.User{UserID: "u1"})
				require.NoError(t, err)
				return token
			},
		},
		"missing uuid claim": {
			arrange: func(t *testing.T) string {
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
					"sub": "player",
					"exp": now.Add(time.Minute).Unix(),
				}).SignedString([]byte("secret"))
				require.NoError(t, err)
				return token
			},
		},
		"unexpected algorithm": {
			arrange: func(t *testing.T) string {
				token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
					"uuid": "u1",
					"exp":  now.Add(time.Minute).Unix(),
				}).SignedString([]byte("secret"))
				require.NoError(t, err)
				return token
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			o := makeOracle(t, "secret", func() time.Time { return now })

			_, err := o.Verify(tt.arrange(t))
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeUnauthenticated))
		})
	}
}

func TestNewOracle_RequiresSecret(t *testing.T) {
	_, err := identity.NewOracle(identity.Config{})
	require.Error(t, err)
}

func makeOracle(t *testing.T, secret string, now func() time.Time) *identity.Oracle {
	o, err := identity.NewOracle(identity.Config{Secret: secret, TokenTTL: 30 * time.Minute, Now: now})
	require.NoError(t, err)
	return o
}
