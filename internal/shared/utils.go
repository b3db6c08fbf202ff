// Package shared
package shared

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
)

func SafeEnv(env string) (string, error) {
	res, present := os.LookupEnv(env)
	if !present {
		return "", fmt.Errorf("missing environment variable %s", env)
	}
	return res, nil
}

func ExtractAPIKey(c echo.Context) (string, error) {
	auth := c.Request().Header.Get("Authorization")
	if auth == "" {
		return "", ErrMissingAuth
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", ErrInvalidFormat
	}

	apiKey := parts[1]
	if len(apiKey) != APIKeyLength {
		return "", ErrInvalidKeyLen
	}

	return apiKey, nil
}

// Truncate cuts s to at most n characters without splitting a rune
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// MaskKey keeps only enough of a secret to correlate log lines
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// LimitKey namespaces a shared-store key by operation and user
func LimitKey(kind, operation string, userID uint64, parts ...string) string {
	key := fmt.Sprintf("flowgate:%s:%s:%d", kind, operation, userID)
	for _, p := range parts {
		key += ":" + p
	}
	return key
}
