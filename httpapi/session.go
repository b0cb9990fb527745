package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

type sessionResponse struct {
	User             authcore.User `json:"user"`
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type"`
	AccessExpiresAt  time.Time     `json:"access_expires_at"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
}

func newSessionResponse(res *authcore.SessionResult) sessionResponse {
	return sessionResponse{
		User:             res.User,
		AccessToken:      res.Tokens.AccessToken,
		RefreshToken:     res.Tokens.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  res.Tokens.AccessExpiresAt,
		RefreshExpiresAt: res.Tokens.RefreshExpiresAt,
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, authcore.ErrInvalidInput)
		return
	}

	res, err := h.engine.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		// Unknown identifiers answer exactly like wrong passwords.
		if errors.Is(err, authcore.ErrNotFound) {
			err = authcore.ErrWrongPassword
		}
		h.respondError(c, err)
		return
	}
	h.setSessionCookies(c, res.Tokens)
	c.JSON(http.StatusOK, newSessionResponse(res))
}

func (h *Handler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.respondError(c, authcore.ErrInvalidInput)
			return
		}
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token, _ = c.Cookie(refreshCookie)
	}
	if token == "" {
		h.respondError(c, authcore.ErrInvalidRefreshToken)
		return
	}

	res, err := h.engine.Refresh(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, authcore.ErrRefreshReuse) || errors.Is(err, authcore.ErrInvalidRefreshToken) {
			h.clearSessionCookies(c)
		}
		h.respondError(c, err)
		return
	}
	h.setSessionCookies(c, res.Tokens)
	c.JSON(http.StatusOK, newSessionResponse(res))
}

// Logout always clears the session cookies. The stored refresh token is revoked
// through a valid access token or, failing that, through the presented refresh
// token. Invalid credentials still answer 204.
func (h *Handler) Logout(c *gin.Context) {
	h.clearSessionCookies(c)
	ctx := c.Request.Context()

	if token, ok := middleware.TokenFromRequest(c.Request); ok {
		if claims, err := h.engine.ValidateAccess(token); err == nil {
			if err := h.engine.Logout(ctx, claims.UserID); err != nil {
				h.respondError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
			return
		}
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if c.Request.ContentLength > 0 {
		_ = c.ShouldBindJSON(&req)
	}
	refresh := strings.TrimSpace(req.RefreshToken)
	if refresh == "" {
		refresh, _ = c.Cookie(refreshCookie)
	}
	if refresh != "" {
		err := h.engine.LogoutRefresh(ctx, refresh)
		if err != nil && !errors.Is(err, authcore.ErrInvalidRefreshToken) {
			h.respondError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}
