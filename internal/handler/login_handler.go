package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/one-time-login-api/pkg/errors"
	"github.com/noah-isme/one-time-login-api/pkg/response"

	"github.com/noah-isme/one-time-login-api/internal/middleware"
	"github.com/noah-isme/one-time-login-api/internal/models"
	"github.com/noah-isme/one-time-login-api/internal/service"
)

// LoginHandler serves the one-time login URL entry point.
type LoginHandler struct {
	tokens     *service.TokenService
	auth       *service.AuthService
	cookieName string
}

// NewLoginHandler creates a new handler.
func NewLoginHandler(tokens *service.TokenService, auth *service.AuthService, cookieName string) *LoginHandler {
	return &LoginHandler{tokens: tokens, auth: auth, cookieName: cookieName}
}

// Handle godoc
// @Summary Log in with a one-time token
// @Description Validates the user_id/token pair and, on success, establishes a session and redirects
// @Tags Login
// @Param user_id query string true "User identifier"
// @Param token query string true "One-time token secret"
// @Success 302
// @Failure 401 {object} response.Envelope
// @Router /login [get]
func (h *LoginHandler) Handle(c *gin.Context) {
	userID := c.Query("user_id")
	secret := c.Query("token")
	// Both params are the wire contract. A request missing either is
	// simply not this feature's concern.
	if userID == "" || secret == "" {
		c.Status(http.StatusNotFound)
		return
	}

	req := models.ValidateRequest{UserID: userID, Secret: secret}
	if claims := middleware.Claims(c); claims != nil {
		req.SessionActive = true
		req.SessionUserName = claims.FullName
	}

	res, err := h.tokens.Validate(c.Request.Context(), req)
	if err != nil {
		appErr := appErrors.FromError(err)
		if appErr.Code == appErrors.ErrAuthFailed.Code {
			response.Error(c, appErrors.Clone(appErrors.ErrAuthFailed, failureMessage(req)))
			return
		}
		response.Error(c, err)
		return
	}

	token, expiresAt, err := h.auth.EstablishSession(res.User)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to establish session"))
		return
	}

	maxAge := int(time.Until(expiresAt).Seconds())
	c.SetCookie(h.cookieName, token, maxAge, "/", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, res.RedirectTarget)
}

// failureMessage keeps the failure non-enumerable: one text for
// anonymous callers, one for callers who already hold a session.
func failureMessage(req models.ValidateRequest) string {
	if req.SessionActive {
		return fmt.Sprintf("%s, but you are signed in as %q. Go to the dashboard instead?", appErrors.GenericAuthMessage, req.SessionUserName)
	}
	return fmt.Sprintf("%s. Try signing in instead?", appErrors.GenericAuthMessage)
}
