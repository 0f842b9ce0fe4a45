// Package api exposes the credential broker over HTTP for the dashboard UI
// and the per-provider data modules. All responses are JSON except the
// browser-facing OAuth callback, which redirects back to the UI.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/netcomhub/dashboard/pkg/broker"
	"github.com/netcomhub/dashboard/pkg/core"
	"github.com/netcomhub/dashboard/pkg/provider"

	"github.com/gin-gonic/gin"
)

// DefaultUIBaseURL is where the callback sends the browser when no UI base is
// configured.
const DefaultUIBaseURL = "http://localhost:3000"

// Server wires the broker into gin handlers.
type Server struct {
	broker *broker.Broker
	uiURL  string
}

// NewServer creates an API server over the given broker. uiBaseURL is the
// dashboard UI origin used for callback redirects; empty means
// DefaultUIBaseURL.
func NewServer(b *broker.Broker, uiBaseURL string) *Server {
	if uiBaseURL == "" {
		uiBaseURL = DefaultUIBaseURL
	}
	return &Server{
		broker: b,
		uiURL:  strings.TrimRight(uiBaseURL, "/"),
	}
}

// RegisterRoutes attaches all broker routes to the router.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.Use(corsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	g := r.Group("/:provider")
	g.GET("/auth-url", s.authURL)
	g.GET("/auth", s.authRedirect)
	g.GET("/auth/callback", s.authCallback)
	g.GET("/auth-status", s.authStatus)
	g.POST("/refresh-token", s.refreshToken)
	g.POST("/logout", s.logout)
}

// requestCtx attaches a request ID so broker logs can be correlated.
func requestCtx(c *gin.Context) context.Context {
	return core.WithRequestID(c.Request.Context())
}

// authURL returns the provider's consent page URL as JSON.
func (s *Server) authURL(c *gin.Context) {
	providerID := c.Param("provider")
	authURL, err := s.broker.BeginAuth(requestCtx(c), providerID)
	if err != nil {
		s.beginAuthError(c, providerID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"authUrl": authURL})
}

// authRedirect sends the browser straight to the provider's consent page.
func (s *Server) authRedirect(c *gin.Context) {
	providerID := c.Param("provider")
	authURL, err := s.broker.BeginAuth(requestCtx(c), providerID)
	if err != nil {
		s.beginAuthError(c, providerID, err)
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

func (s *Server) beginAuthError(c *gin.Context, providerID string, err error) {
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
	case errors.Is(err, provider.ErrNotConfigured):
		core.LoggerFromCtx(c.Request.Context()).Error("provider misconfigured",
			"provider", providerID,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "provider is not configured"})
	default:
		core.LoggerFromCtx(c.Request.Context()).Error("failed to begin authorization",
			"provider", providerID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to begin authorization"})
	}
}

// authCallback completes the flow and bounces the browser back to the UI.
// Errors are never surfaced raw: the redirect carries a sanitized reason.
func (s *Server) authCallback(c *gin.Context) {
	providerID := c.Param("provider")
	ctx := requestCtx(c)
	logger := core.LoggerFromCtx(ctx)

	// The provider reports consent denial via an error query parameter.
	if errParam := c.Query("error"); errParam != "" {
		logger.Warn("provider returned authorization error",
			"provider", providerID,
			"oauth_error", errParam,
		)
		s.redirectUI(c, providerID, "auth=error&message="+url.QueryEscape(errParam))
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		s.redirectUI(c, providerID, "auth=error&message=missing_code_or_state")
		return
	}

	_, err := s.broker.CompleteAuth(ctx, providerID, code, state)
	if err != nil {
		var exchangeErr *broker.TokenExchangeError
		switch {
		case errors.Is(err, provider.ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		case errors.Is(err, broker.ErrInvalidState):
			logger.Warn("callback rejected for invalid state", "provider", providerID)
			s.redirectUI(c, providerID, "auth=error&message=invalid_state")
		case errors.As(err, &exchangeErr):
			logger.Error("token exchange failed",
				"provider", providerID,
				"status", exchangeErr.StatusCode,
				"error", err,
			)
			s.redirectUI(c, providerID, "auth=error&message=exchange_failed")
		default:
			logger.Error("callback failed", "provider", providerID, "error", err)
			s.redirectUI(c, providerID, "auth=error&message=internal_error")
		}
		return
	}

	s.redirectUI(c, providerID, "auth=success")
}

func (s *Server) redirectUI(c *gin.Context, providerID, query string) {
	c.Redirect(http.StatusFound, fmt.Sprintf("%s/%s?%s", s.uiURL, providerID, query))
}

// authStatus answers the status query. "Not connected" is reported with a 200
// and a false flag so data modules can treat it uniformly.
func (s *Server) authStatus(c *gin.Context) {
	providerID := c.Param("provider")
	ctx := requestCtx(c)

	st, err := s.broker.Status(ctx, providerID)
	if err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
			return
		}
		core.LoggerFromCtx(ctx).Error("status query failed",
			"provider", providerID,
			"error", err,
		)
		c.JSON(http.StatusOK, gin.H{"isAuthenticated": false, "reason": "error"})
		return
	}

	resp := gin.H{"isAuthenticated": st.Authenticated}
	if st.Mode != "" {
		resp["mode"] = st.Mode
	}
	if st.Reason != "" {
		resp["reason"] = st.Reason
	}
	if len(st.Scopes) > 0 {
		resp["scopes"] = st.Scopes
	}
	if !st.ExpiresAt.IsZero() {
		resp["expiresAt"] = st.ExpiresAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// refreshToken forces a refresh exchange for the provider.
func (s *Server) refreshToken(c *gin.Context) {
	providerID := c.Param("provider")
	ctx := requestCtx(c)

	cred, err := s.broker.Refresh(ctx, providerID)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrUnknownProvider):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		case errors.Is(err, broker.ErrNotAuthenticated):
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "reason": broker.ReasonNotAuthenticated})
		case errors.Is(err, broker.ErrReauthRequired):
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "reason": broker.ReasonReauthRequired})
		case errors.Is(err, broker.ErrRefreshTransient):
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "reason": broker.ReasonTransient})
		default:
			core.LoggerFromCtx(ctx).Error("refresh failed", "provider", providerID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "reason": "internal_error"})
		}
		return
	}

	resp := gin.H{"success": true}
	if !cred.ExpiresAt.IsZero() {
		resp["expiresAt"] = cred.ExpiresAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// logout clears the stored credential for the provider.
func (s *Server) logout(c *gin.Context) {
	providerID := c.Param("provider")
	ctx := requestCtx(c)

	if err := s.broker.Logout(ctx, providerID); err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
			return
		}
		core.LoggerFromCtx(ctx).Error("logout failed", "provider", providerID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
