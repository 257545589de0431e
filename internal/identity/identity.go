// Package identity issues and verifies the signed bearer tokens shared by all services.
package identity

import (
	stderrors "errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
)

const defaultTokenTTL = 30 * time.Minute

type Config struct {
	Secret   string
	TokenTTL time.Duration
	// Now is used in tests to pin the clock.
	Now func() time.Time
}

// Claims carry the login as subject and the user ID under "uuid".
type Claims struct {
	UUID string `json:"uuid"`
	jwt.RegisteredClaims
}

// Oracle is an HS256 token issuer and verifier.
type Oracle struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewOracle(c Config) (*Oracle, error) {
	if c.Secret == "" {
		return nil, stderrors.New("identity: secret is required")
	}

	o := &Oracle{
		secret: []byte(c.Secret),
		ttl:    c.TokenTTL,
		now:    c.Now,
	}

	if o.ttl <= 0 {
		o.ttl = defaultTokenTTL
	}
	if o.now == nil {
		o.now = time.Now
	}

	return o, nil
}

// Issue signs a token for the user.
func (o *Oracle) Issue(u domain.User) (string, error) {
	now := o.now()
	claims := Claims{
		UUID: u.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Login,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(o.ttl)),
		},
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(o.secret)
	if err != nil {
		return "", errors.Internal(err)
	}

	return s, nil
}

// Verify checks the token signature and expiry and returns who it was issued to.
func (o *Oracle) Verify(token string) (domain.Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return o.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(o.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("could not validate credentials"),
			errors.WithCause(err))
	}

	if claims.UUID == "" {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid token payload"))
	}

	name := claims.Subject
	if name == "" {
		name = "Unknown"
	}

	return domain.Identity{UserID: claims.UUID, DisplayName: name}, nil
}
