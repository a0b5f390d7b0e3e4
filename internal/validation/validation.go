// Package validation provides input validation middleware for the fraudgate API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB).
const MaxRequestSize = 1 << 20

// MaxStringLength is the maximum length for free-form string fields.
const MaxStringLength = 512

var (
	// vpaRegex validates UPI virtual payment addresses (name@psp).
	vpaRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]{2,256}@[a-zA-Z]{2,64}$`)
	// idRegex validates caller-supplied identifiers (transaction, device).
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9._:-]{1,128}$`)
)

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidVPA checks if a string is a well-formed UPI address.
func IsValidVPA(addr string) bool {
	return vpaRegex.MatchString(addr)
}

// IsValidID checks if a string is a well-formed identifier.
func IsValidID(s string) bool {
	return idRegex.MatchString(s)
}

// SanitizeString trims, bounds, and strips null bytes from a string.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// SanitizeVPA normalizes a UPI address for comparison and storage.
func SanitizeVPA(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
