package api

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// extractAuthor extracts the author from proxy headers.
// Priority: X-Forwarded-User (oauth2-proxy) > X-Forwarded-Email (oauth2-proxy) >
// X-Remote-User (kube-rbac-proxy) > "api-client"
func extractAuthor(c *gin.Context) string {
	if user := c.GetHeader("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.GetHeader("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.GetHeader("X-Remote-User"); user != "" {
		return user
	}
	return "api-client"
}

// extractRoles parses the caller's group memberships from the
// X-Forwarded-Groups header the proxy injects. Empty when absent.
func extractRoles(c *gin.Context) []string {
	raw := c.GetHeader("X-Forwarded-Groups")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if role := strings.TrimSpace(p); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
