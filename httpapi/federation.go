package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
)

// OAuthStart stores state and nonce in cookies and redirects to the provider.
func (h *Handler) OAuthStart(c *gin.Context) {
	start, err := h.engine.StartFederation(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.setCookie(c, stateCookie, start.State, start.MaxAge)
	h.setCookie(c, nonceCookie, start.Nonce, start.MaxAge)
	c.Redirect(http.StatusFound, start.URL)
}

// OAuthCallback completes the provider sign-in. The state and nonce cookies are
// cleared whatever the outcome.
func (h *Handler) OAuthCallback(c *gin.Context) {
	cookieState, _ := c.Cookie(stateCookie)
	cookieNonce, _ := c.Cookie(nonceCookie)
	h.clearCookie(c, stateCookie)
	h.clearCookie(c, nonceCookie)

	res, err := h.engine.CompleteFederation(c.Request.Context(), authcore.FederationCallback{
		Code:          c.Query("code"),
		State:         c.Query("state"),
		CookieState:   cookieState,
		CookieNonce:   cookieNonce,
		ProviderError: c.Query("error"),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.setSessionCookies(c, res.Tokens)
	if h.opts.FederationRedirect != "" {
		c.Redirect(http.StatusFound, h.opts.FederationRedirect)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  newSessionResponse(&res.SessionResult),
		"provider": res.Provider,
		"created":  res.Created,
	})
}
