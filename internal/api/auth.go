package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// APIKeyHeader carries the shared secret on protected routes.
const APIKeyHeader = "x-api-key"

// APIKeyAuth returns a middleware that requires the x-api-key header to
// match key, or to bcrypt-match keyHash when key is empty. With neither
// configured it lets every request through.
func APIKeyAuth(key, keyHash string) gin.HandlerFunc {
	if key == "" && keyHash == "" {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		got := c.GetHeader(APIKeyHeader)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error: "missing " + APIKeyHeader + " header",
				Kind:  "unauthorized",
			})
			return
		}
		if !keyMatches(got, key, keyHash) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
				Error: "invalid api key",
				Kind:  "unauthorized",
			})
			return
		}
		c.Next()
	}
}

func keyMatches(got, key, keyHash string) bool {
	if key != "" {
		return subtle.ConstantTimeCompare([]byte(got), []byte(key)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(got)) == nil
}

// HashAPIKey returns the bcrypt hash to store as server.api_key_hash.
func HashAPIKey(key string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
