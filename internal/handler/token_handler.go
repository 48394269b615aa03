package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/one-time-login-api/pkg/errors"
	"github.com/noah-isme/one-time-login-api/pkg/export"
	"github.com/noah-isme/one-time-login-api/pkg/response"

	"github.com/noah-isme/one-time-login-api/internal/models"
	"github.com/noah-isme/one-time-login-api/internal/service"
)

// TokenHandler exposes the admin API for issuing and pruning one-time
// login tokens.
type TokenHandler struct {
	tokens   *service.TokenService
	validate *validator.Validate
}

// NewTokenHandler creates a new handler.
func NewTokenHandler(tokens *service.TokenService, validate *validator.Validate) *TokenHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &TokenHandler{tokens: tokens, validate: validate}
}

// Issue godoc
// @Summary Issue one-time login URLs
// @Description Generates one or more login tokens for the user and returns the URLs
// @Tags Tokens
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param payload body models.IssueRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/{id}/login-urls [post]
func (h *TokenHandler) Issue(c *gin.Context) {
	req, ok := h.bindIssue(c)
	if !ok {
		return
	}

	res, err := h.tokens.Issue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, res)
}

// List godoc
// @Summary List live login tokens
// @Description Returns the user's token records with masked secrets
// @Tags Tokens
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /users/{id}/login-urls [get]
func (h *TokenHandler) List(c *gin.Context) {
	views, err := h.tokens.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, map[string]interface{}{"count": len(views)})
}

// Prune godoc
// @Summary Delete all login tokens
// @Description Removes every token for the user and cancels pending cleanups
// @Tags Tokens
// @Param id path string true "User ID"
// @Success 204
// @Router /users/{id}/login-urls [delete]
func (h *TokenHandler) Prune(c *gin.Context) {
	if err := h.tokens.PruneAll(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Export godoc
// @Summary Issue login URLs and download them as a hand-out
// @Description Issues tokens like the plain endpoint but streams the URLs as CSV or PDF login slips
// @Tags Tokens
// @Accept json
// @Produce application/octet-stream
// @Param id path string true "User ID"
// @Param format query string false "csv or pdf" default(csv)
// @Param payload body models.IssueRequest true "Issue payload"
// @Success 200
// @Failure 400 {object} response.Envelope
// @Router /users/{id}/login-urls/export [post]
func (h *TokenHandler) Export(c *gin.Context) {
	req, ok := h.bindIssue(c)
	if !ok {
		return
	}

	res, err := h.tokens.Issue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	slips := make([]export.LoginSlip, 0, len(res.URLs))
	for i, u := range res.URLs {
		slips = append(slips, export.LoginSlip{
			UserLabel:   res.UserID,
			URL:         u,
			ActiveFrom:  res.Tokens[i].ActivateAt.Format("2006-01-02 15:04"),
			ActiveUntil: res.Tokens[i].DeactivateAt.Format("2006-01-02 15:04"),
		})
	}

	format := c.DefaultQuery("format", "csv")
	switch format {
	case "csv":
		data, err := export.RenderCSV(slips)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render csv"))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=login-urls-%s.csv", res.UserID))
		c.Data(http.StatusOK, "text/csv", data)
	case "pdf":
		data, err := export.RenderPDF("One-Time Login URLs", slips)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "render pdf"))
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=login-urls-%s.pdf", res.UserID))
		c.Data(http.StatusOK, "application/pdf", data)
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrInvalidParameter, fmt.Sprintf("unsupported format %q", format)))
	}
}

func (h *TokenHandler) bindIssue(c *gin.Context) (models.IssueRequest, bool) {
	var req models.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid issue payload"))
		return req, false
	}
	req.UserID = c.Param("id")
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid issue payload"))
		return req, false
	}
	return req, true
}
