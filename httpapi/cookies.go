package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

const (
	accessCookie  = middleware.AccessCookie
	refreshCookie = "refresh_token"
	stateCookie   = "oauth_state"
	nonceCookie   = "oauth_nonce"
)

func (h *Handler) setCookie(c *gin.Context, name, value string, maxAge time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(maxAge.Seconds()), h.opts.CookiePath, h.opts.CookieDomain, h.opts.CookieSecure, true)
}

func (h *Handler) clearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, h.opts.CookiePath, h.opts.CookieDomain, h.opts.CookieSecure, true)
}

func (h *Handler) setSessionCookies(c *gin.Context, pair authcore.TokenPair) {
	h.setCookie(c, accessCookie, pair.AccessToken, h.engine.AccessTTL())
	h.setCookie(c, refreshCookie, pair.RefreshToken, h.engine.RefreshTTL())
}

func (h *Handler) clearSessionCookies(c *gin.Context) {
	h.clearCookie(c, accessCookie)
	h.clearCookie(c, refreshCookie)
}
