// Package validation provides input validation for the agent API surface.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxReasonLength bounds operator-supplied free-text (emergency reasons, labels).
const MaxReasonLength = 200

var (
	// identityRegex validates PKP-style uncompressed public keys (0x + 130 hex).
	identityRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{130}$`)
	// scriptCIDRegex validates content-addressed signing script references.
	scriptCIDRegex = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
)

// IsValidIdentity checks if a string is a valid signing identity
// (uncompressed secp256k1 public key, 0x-prefixed).
func IsValidIdentity(identity string) bool {
	return identityRegex.MatchString(identity)
}

// IsValidAddress checks if a string is a valid account address.
func IsValidAddress(addr string) bool {
	return common.IsHexAddress(addr)
}

// IsValidScriptCID checks if a string is a valid content-addressed script reference.
func IsValidScriptCID(cid string) bool {
	return scriptCIDRegex.MatchString(cid)
}

// SanitizeReason trims, bounds, and strips line breaks from operator-supplied text.
// Upstream payloads must never flow into user-visible messages unbounded.
func SanitizeReason(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) > MaxReasonLength {
		s = s[:MaxReasonLength]
	}
	return s
}

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IdentityParamMiddleware validates the :identity URL parameter on routes that
// use it. Apply to route groups that include :identity params to reject
// malformed identities early.
func IdentityParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("identity")
		if id != "" && !IsValidIdentity(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_identity",
				"message": "identity must be an uncompressed public key (0x + 130 hex chars)",
			})
			return
		}
		c.Next()
	}
}
