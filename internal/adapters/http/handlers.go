package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/auth"
	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/dkeye/sigrelay/internal/turn"
)

type handlers struct {
	deps Deps
}

type loginRequest struct {
	Username string `json:"username" form:"username" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type userResponse struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	IsActive   bool   `json:"is_active"`
	IsVerified bool   `json:"is_verified"`
}

func (h *handlers) health(c *gin.Context) {
	rooms, conns := h.deps.Registry.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"active_connections": conns,
		"rooms":              rooms,
	})
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Registry.Rooms())
}

func (h *handlers) roomInfo(c *gin.Context) {
	info, ok := h.deps.Registry.Room(domain.RoomID(c.Param("room_id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Room not found"})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "username and password are required"})
		return
	}
	h.issue(c, req)
}

// token is the OAuth2 password-grant form variant of login.
func (h *handlers) token(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "username and password are required"})
		return
	}
	h.issue(c, req)
}

func (h *handlers) issue(c *gin.Context, req loginRequest) {
	token, _, err := h.deps.Auth.Login(c.Request.Context(), req.Username, req.Password)
	if errors.Is(err, auth.ErrBadCredentials) {
		c.Header("WWW-Authenticate", "Bearer")
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "Incorrect username or password"})
		return
	}
	if err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("login")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Login failed"})
		return
	}
	c.JSON(http.StatusOK, h.tokenResponse(token))
}

func (h *handlers) tokenResponse(token string) tokenResponse {
	return tokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int64(h.deps.Auth.Tokens.TTL().Seconds()),
	}
}

func (h *handlers) me(c *gin.Context) {
	u := currentUser(c)
	c.JSON(http.StatusOK, userResponse{
		Username:   u.Username,
		Email:      u.Email,
		IsActive:   u.Active,
		IsVerified: u.Verified,
	})
}

func (h *handlers) refresh(c *gin.Context) {
	u := currentUser(c)
	token, _, err := h.deps.Auth.Tokens.Issue(u.Username)
	if err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("refresh")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not issue token"})
		return
	}
	c.JSON(http.StatusOK, h.tokenResponse(token))
}

// logout is stateless; the client discards its token.
func (h *handlers) logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Successfully logged out"})
}

func (h *handlers) turnCredentials(c *gin.Context) {
	creds, err := h.deps.TURN.Credentials(currentUser(c).Username)
	switch {
	case errors.Is(err, turn.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "TURN server not configured"})
	case err != nil:
		log.Error().Str("module", "adapters.http").Err(err).Msg("turn credentials")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not issue TURN credentials"})
	default:
		c.JSON(http.StatusOK, creds)
	}
}

func (h *handlers) iceServers(c *gin.Context) {
	servers, err := h.deps.TURN.ICEServers(currentUser(c).Username)
	if err != nil {
		log.Error().Str("module", "adapters.http").Err(err).Msg("ice servers")
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Could not build ICE servers"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ice_servers": servers})
}
