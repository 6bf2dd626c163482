package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gocalceum/calc/internal/domain"
	"github.com/gocalceum/calc/internal/http/middleware"
	"github.com/gocalceum/calc/internal/service/connect"
)

// ConnectHandler exposes the HMRC connection lifecycle over HTTP.
type ConnectHandler struct {
	service *connect.Service
	logger  *zap.Logger
}

// NewConnectHandler constructs the handler.
func NewConnectHandler(service *connect.Service, logger *zap.Logger) *ConnectHandler {
	return &ConnectHandler{service: service, logger: logger}
}

type initiateRequest struct {
	EntityID    string   `json:"entity_id"`
	RedirectURI string   `json:"redirect_uri"`
	Scopes      []string `json:"scopes"`
}

// Initiate handles POST /hmrc/auth/initiate.
func (h *ConnectHandler) Initiate(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.service.Initiate(c.Request.Context(), principal.UserID, req.EntityID, req.RedirectURI, req.Scopes)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"auth_url": result.AuthURL,
		"state":    result.State,
	})
}

type callbackRequest struct {
	Code             string `json:"code"`
	State            string `json:"state"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Callback handles POST /hmrc/auth/callback.
func (h *ConnectHandler) Callback(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req callbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	// The provider reports denial through error/error_description query
	// params, which the frontend forwards verbatim.
	if req.Error != "" {
		message := req.Error
		if req.ErrorDescription != "" {
			message = req.ErrorDescription
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": message})
		return
	}

	result, err := h.service.Callback(c.Request.Context(), principal.UserID, req.Code, req.State)
	if err != nil {
		h.renderError(c, err)
		return
	}

	body := gin.H{
		"success":     true,
		"entity_id":   result.EntityID,
		"connections": result.Connections,
	}
	if result.Message != "" {
		body["message"] = result.Message
	}
	c.JSON(http.StatusOK, body)
}

type connectionRequest struct {
	ConnectionID string `json:"connection_id"`
}

func (r connectionRequest) id() (int64, error) {
	return strconv.ParseInt(r.ConnectionID, 10, 64)
}

// Sync handles POST /hmrc/sync.
func (h *ConnectHandler) Sync(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := req.id()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id must be a numeric string"})
		return
	}

	result, err := h.service.Sync(c.Request.Context(), principal.UserID, id)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"connection_id":     strconv.FormatInt(result.ConnectionID, 10),
		"businesses_synced": result.BusinessesSynced,
	})
}

// Disconnect handles POST /hmrc/disconnect.
func (h *ConnectHandler) Disconnect(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id, err := req.id()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id must be a numeric string"})
		return
	}

	if err := h.service.Disconnect(c.Request.Context(), principal.UserID, id); err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// renderError maps domain errors onto HTTP status codes. Internal details
// stay in the logs; callers only see the category.
func (h *ConnectHandler) renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
	case errors.Is(err, domain.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, domain.ErrConnectionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid or expired oauth state"})
	case errors.Is(err, domain.ErrExchangeFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "token exchange failed"})
	case errors.Is(err, domain.ErrSyncFailed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "business sync failed"})
	default:
		h.logger.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
