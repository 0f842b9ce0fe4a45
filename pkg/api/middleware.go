package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMiddleware is an optimized CORS handler for Gin.
// It merges allowed headers with defaults, sets standard options, and can be further customized.
func corsMiddleware(allowedHeaders ...string) gin.HandlerFunc {
	defaultHeaders := []string{"Authorization", "Content-Type"}
	var headersList []string
	if len(allowedHeaders) > 0 {
		headers := []string{}
		headers = append(headers, defaultHeaders...)
		for _, h := range allowedHeaders {
			hNorm := strings.TrimSpace(h)
			if hNorm != "" && hNorm != "*" && !containsCI(defaultHeaders, hNorm) {
				headers = append(headers, hNorm)
			}
		}
		headersList = headers
	} else {
		headersList = defaultHeaders
	}

	allowedMethods := []string{"GET", "POST", "OPTIONS"}
	return func(c *gin.Context) {
		// For production, set allowlist for origins here; demo fallback is *
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
		c.Header("Access-Control-Allow-Headers", strings.Join(headersList, ", "))
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// containsCI reports whether list contains s, compared case-insensitively.
func containsCI(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
