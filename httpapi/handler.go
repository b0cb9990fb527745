package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/middleware"
)

// Options configures the HTTP surface.
type Options struct {
	CookieDomain string
	CookiePath   string
	CookieSecure bool
	// RequestsPerMinute is the per-IP budget; 0 disables the throttle.
	RequestsPerMinute int
	// FederationRedirect, when set, is where a completed federation sign-in is
	// redirected instead of answering JSON.
	FederationRedirect string
}

// Handler serves the engine operations.
type Handler struct {
	engine *authcore.Engine
	logger *zap.Logger
	opts   Options
}

// NewHandler returns a Handler. logger may be nil.
func NewHandler(engine *authcore.Engine, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CookiePath == "" {
		opts.CookiePath = "/"
	}
	return &Handler{engine: engine, logger: logger.Named("http"), opts: opts}
}

// NewRouter wires the routes onto a fresh gin engine.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(h.logger))
	r.Use(NewRateLimiter(h.opts.RequestsPerMinute).Handler())
	r.Use(clientContext())
	h.Routes(r)
	return r
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r gin.IRouter) {
	r.POST("/register", h.Register)
	r.POST("/login", h.Login)
	r.POST("/logout", h.Logout)
	r.POST("/refresh", h.Refresh)
	r.GET("/verify-email", h.VerifyEmail)
	r.POST("/resend-verification", h.ResendVerification)
	r.POST("/forgot-password", h.ForgotPassword)
	r.POST("/reset-password", h.ResetPassword)
	r.POST("/change-password", h.authenticate, h.ChangePassword)
	r.GET("/me", h.authenticate, h.Me)
	r.PATCH("/me", h.authenticate, h.UpdateMe)
	r.GET("/oauth/start", h.OAuthStart)
	r.GET("/oauth/callback", h.OAuthCallback)
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

const claimsKey = "claims"

func (h *Handler) authenticate(c *gin.Context) {
	token, ok := middleware.TokenFromRequest(c.Request)
	if !ok {
		h.respondError(c, authcore.ErrUnauthorized)
		return
	}
	claims, err := h.engine.ValidateAccess(token)
	if err != nil {
		h.respondError(c, authcore.ErrUnauthorized)
		return
	}
	c.Set(claimsKey, claims)
	c.Request = c.Request.WithContext(middleware.WithClaims(c.Request.Context(), claims))
	c.Next()
}

func claimsFrom(c *gin.Context) *authcore.AccessClaims {
	v, _ := c.Get(claimsKey)
	claims, _ := v.(*authcore.AccessClaims)
	return claims
}
