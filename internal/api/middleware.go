package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
)

// authenticate requires a valid "Authorization: Bearer <token>" header and stores the caller's identity in the request context.
func (a *API) authenticate(c *gin.Context) {
	id, err := a.verify(c.GetHeader("Authorization"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Request = c.Request.WithContext(withIdentity(c.Request.Context(), id))
	c.Next()
}

func (a *API) verify(header string) (domain.Identity, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return domain.Identity{}, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("not authenticated"))
	}

	return a.oracle.Verify(strings.TrimSpace(token))
}
