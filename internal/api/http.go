package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/domain"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/errors"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/leaderboard"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/session"
	"github.com/ASE-ClickerGame-GroupE/clicker-game-backend/internal/user"
)

func (a *API) registerHTTP(r gin.IRouter) {
	r.GET("/health", a.health)

	r.POST("/auth/signup", a.signup)
	r.POST("/auth/token", a.token)
	r.GET("/auth/me", a.authenticate, a.me)

	r.GET("/users", a.listUsers)
	r.GET("/users/:id", a.getUser)

	game := r.Group("/game", a.authenticate)
	game.POST("/start", a.startGame)
	game.POST("/finish", a.finishGame)
	game.GET("", a.listGames)
	game.GET("/:id", a.getGame)

	lb := r.Group("/leaderboard")
	lb.GET("/total-score", a.globalLeaderboard(domain.PolicySum))
	lb.GET("/total-score/me", a.authenticate, a.selfLeaderboard(domain.PolicySum))
	lb.GET("/best-single-run", a.globalLeaderboard(domain.PolicyBest))
	lb.GET("/best-single-run/me", a.authenticate, a.selfLeaderboard(domain.PolicyBest))
}

type (
	limitQuery struct {
		Limit int `form:"limit"`
	}

	signupRequest struct {
		Login string `json:"login"`
		// Legacy clients send the login under this key.
		Loging   string `json:"loging"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}

	tokenRequest struct {
		Username string `form:"username" binding:"required"`
		Password string `form:"password" binding:"required"`
	}

	tokenResponse struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}

	startGameResponse struct {
		SessionID string `json:"session_id"`
	}

	finishGameRequest struct {
		SessionID  string           `json:"session_id" binding:"required"`
		Scores     map[string]int64 `json:"scores"`
		FinishedAt *float64         `json:"finished_at"`
	}

	finishGameResponse struct {
		SessionID string `json:"session_id"`
	}
)

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}

	login := req.Login
	if login == "" {
		login = req.Loging
	}

	u, err := a.us.Signup(c.Request.Context(), user.SignupRequest{
		Login:    login,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toUser(*u))
}

func (a *API) token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBind(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}

	resp, err := a.us.Login(c.Request.Context(), user.LoginRequest{
		Login:    req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: resp.AccessToken,
		TokenType:   "bearer",
	})
}

func (a *API) me(c *gin.Context) {
	id, _ := identityFrom(c.Request.Context())

	u, err := a.us.GetUser(c.Request.Context(), id.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toUser(*u))
}

func (a *API) listUsers(c *gin.Context) {
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, badRequest(err))
		return
	}

	us, err := a.us.ListUsers(c.Request.Context(), q.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]User, 0, len(us))
	for _, u := range us {
		out = append(out, toUser(u))
	}

	c.JSON(http.StatusOK, out)
}

func (a *API) getUser(c *gin.Context) {
	u, err := a.us.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toUser(*u))
}

func (a *API) startGame(c *gin.Context) {
	id, _ := identityFrom(c.Request.Context())

	ss, err := a.ss.Start(c.Request.Context(), session.StartRequest{UserID: id.UserID})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, startGameResponse{SessionID: ss.SessionID})
}

func (a *API) finishGame(c *gin.Context) {
	var req finishGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}

	var finishedAt *time.Time
	if req.FinishedAt != nil {
		t := fromUnix(*req.FinishedAt)
		finishedAt = &t
	}

	ss, err := a.ss.Finish(c.Request.Context(), session.FinishRequest{
		SessionID:  req.SessionID,
		Scores:     req.Scores,
		FinishedAt: finishedAt,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, finishGameResponse{SessionID: ss.SessionID})
}

func (a *API) listGames(c *gin.Context) {
	var q limitQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, badRequest(err))
		return
	}

	id, _ := identityFrom(c.Request.Context())

	ss, err := a.ss.ListSessions(c.Request.Context(), session.ListSessionsRequest{
		UserID: id.UserID,
		Limit:  q.Limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessions(ss))
}

func (a *API) getGame(c *gin.Context) {
	ss, err := a.ss.GetSession(c.Request.Context(), session.GetSessionRequest{SessionID: c.Param("id")})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSession(*ss))
}

func (a *API) globalLeaderboard(policy domain.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		var q limitQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			writeError(c, badRequest(err))
			return
		}

		l, err := a.ls.Compute(c.Request.Context(), leaderboard.ComputeRequest{
			Policy: policy,
			Scope:  domain.Global(q.Limit),
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, toLeaderboard(*l).Entries)
	}
}

func (a *API) selfLeaderboard(policy domain.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := identityFrom(c.Request.Context())

		l, err := a.ls.Compute(c.Request.Context(), leaderboard.ComputeRequest{
			Policy: policy,
			Scope:  domain.Self(id.UserID),
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, toLeaderboardEntry(policy, l.Entries[0]))
	}
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)

	switch e.Code {
	case errors.CodeInternal, errors.CodeUnavailable:
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	case errors.CodeUnauthenticated:
		c.Header("WWW-Authenticate", "Bearer")
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), e)
}

func badRequest(err error) error {
	return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("invalid request: %v", err), errors.WithCause(err))
}
