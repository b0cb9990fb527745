package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MrEthical07/authcore"
)

type deliveryResponse struct {
	EmailSent bool `json:"email_sent"`
}

func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Handle   string `json:"handle"`
		Email    string `json:"email"`
		Password string `json:"password"`
		FullName string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, authcore.ErrInvalidInput)
		return
	}

	res, err := h.engine.Register(c.Request.Context(), authcore.RegisterRequest{
		Handle:   req.Handle,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"user":       res.User,
		"email_sent": res.Delivery.Sent,
	})
}

func (h *Handler) VerifyEmail(c *gin.Context) {
	user, err := h.engine.VerifyEmail(c.Request.Context(), c.Query("token"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) ResendVerification(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, authcore.ErrInvalidInput)
		return
	}
	delivery, err := h.engine.ResendEmailVerification(c.Request.Context(), req.Email)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, deliveryResponse{EmailSent: delivery.Sent})
}

// ForgotPassword answers 202 for known and unknown emails alike.
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, authcore.ErrInvalidInput)
		return
	}
	if _, err := h.engine.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, authcore.ErrInvalidInput)
		return
	}
	if err := h.engine.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, authcore.ErrInvalidInput)
		return
	}
	claims := claimsFrom(c)
	if err := h.engine.ChangePassword(c.Request.Context(), claims.UserID, req.OldPassword, req.NewPassword); err != nil {
		h.respondError(c, err)
		return
	}
	h.clearSessionCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) Me(c *gin.Context) {
	user, err := h.engine.CurrentUser(c.Request.Context(), claimsFrom(c).UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) UpdateMe(c *gin.Context) {
	var req struct {
		Handle   *string `json:"handle"`
		Email    *string `json:"email"`
		FullName *string `json:"full_name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, authcore.ErrInvalidInput)
		return
	}
	res, err := h.engine.UpdateProfile(c.Request.Context(), claimsFrom(c).UserID, authcore.ProfileUpdate{
		Handle:   req.Handle,
		Email:    req.Email,
		FullName: req.FullName,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	body := gin.H{"user": res.User, "email_changed": res.EmailChanged}
	if res.EmailChanged {
		body["email_sent"] = res.Delivery.Sent
	}
	c.JSON(http.StatusOK, body)
}
