package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"comanda-pos/internal/gateway/clients"
	"comanda-pos/internal/guard"
	"comanda-pos/internal/poserr"
	"comanda-pos/internal/session"
	"comanda-pos/internal/utils"

	"github.com/gin-gonic/gin"
)

type APIResponse struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data,omitempty"`
	Meta     interface{} `json:"meta,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

func successWithMetaResponse(message string, data interface{}, meta interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

// respondError maps an action failure to a status code: validation 422,
// busy 409, connectivity 503, transport 504. Business notices are not
// failures and go out as 200 with a warning.
func respondError(c *gin.Context, err error) {
	msg := poserr.Message(err)
	switch {
	case errors.Is(err, guard.ErrBusy):
		c.JSON(http.StatusConflict, errorResponse(msg))
	case poserr.Is(err, poserr.KindValidation):
		c.JSON(http.StatusUnprocessableEntity, errorResponse(msg))
	case poserr.Is(err, poserr.KindConnectivity):
		c.JSON(http.StatusServiceUnavailable, errorResponse(msg))
	case poserr.Is(err, poserr.KindTransport):
		c.JSON(http.StatusGatewayTimeout, errorResponse(msg))
	case poserr.Is(err, poserr.KindBusiness):
		c.JSON(http.StatusOK, APIResponse{Success: true, Message: msg, Warnings: []string{msg}})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse("Internal error"))
	}
}

func requestContext(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

// -- Session --

type SessionHTTPHandler struct {
	terminal  *clients.Terminal
	jwtSecret []byte
}

func NewSessionHTTPHandler(terminal *clients.Terminal, jwtSecret string) *SessionHTTPHandler {
	h := &SessionHTTPHandler{terminal: terminal}
	if jwtSecret != "" {
		h.jwtSecret = []byte(jwtSecret)
	}
	return h
}

type SignInRequest struct {
	Username  string         `json:"username" binding:"required"`
	Token     string         `json:"token"`
	TokenUser string         `json:"token_user"`
	Role      string         `json:"cargo"`
	Shop      string         `json:"carrinho"`
	ExpiresAt int64          `json:"expiresAt"`
	Roles     []string       `json:"roles"`
	Meta      map[string]any `json:"meta"`
}

func (h *SessionHTTPHandler) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format"))
		return
	}

	params := session.SignInParams{
		Username:  req.Username,
		Token:     req.Token,
		TokenUser: req.TokenUser,
		Role:      req.Role,
		Shop:      req.Shop,
		Roles:     req.Roles,
		Meta:      req.Meta,
	}
	if req.ExpiresAt > 0 {
		params.ExpiresAt = time.UnixMilli(req.ExpiresAt)
	}

	if h.jwtSecret != nil {
		token := req.Token
		if token == "" {
			token = req.TokenUser
		}
		claims, err := utils.ParseToken(h.jwtSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, errorResponse("Invalid token"))
			return
		}
		if claims.Username != "" && !strings.EqualFold(claims.Username, strings.TrimSpace(req.Username)) {
			c.JSON(http.StatusUnauthorized, errorResponse("Token does not belong to this user"))
			return
		}
		if params.Role == "" {
			params.Role = claims.Role
		}
		if params.Shop == "" {
			params.Shop = claims.Shop
		}
	}

	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	rec, err := h.terminal.SignIn(ctx, params)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Signed in", rec))
}

func (h *SessionHTTPHandler) Current(c *gin.Context) {
	if !h.terminal.SignedIn() {
		c.JSON(http.StatusUnauthorized, errorResponse("Not signed in"))
		return
	}
	c.JSON(http.StatusOK, successResponse("Session retrieved successfully", h.terminal.Session()))
}

func (h *SessionHTTPHandler) SignOut(c *gin.Context) {
	ctx, cancel := requestContext(c, 10*time.Second)
	defer cancel()

	if err := h.terminal.SignOut(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse("Failed to sign out"))
		return
	}
	c.JSON(http.StatusOK, successResponse("Signed out", nil))
}
