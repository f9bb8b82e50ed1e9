package service

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/pkg/util"
)

const APIKeyHeader = "X-API-Key"

// AuthService guards the API with a static key. With no key configured every
// request passes.
type AuthService struct {
	logger *zap.Logger
	apiKey string
	public []string
}

// NewAuthService takes the key and path prefixes that stay open, such as the
// approval links reviewers open from chat.
func NewAuthService(logger *zap.Logger, apiKey string, publicPrefixes ...string) *AuthService {
	return &AuthService{
		logger: logger.Named("auth"),
		apiKey: apiKey,
		public: publicPrefixes,
	}
}

func (a *AuthService) Enabled() bool {
	return a.apiKey != ""
}

func (a *AuthService) isPublic(path string) bool {
	for _, prefix := range a.public {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// ValidateKey compares in constant time.
func (a *AuthService) ValidateKey(key string) bool {
	if !a.Enabled() {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1
}

func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() || a.isPublic(c.Request.URL.Path) {
			c.Next()
			return
		}

		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			key = c.Query("api_key")
		}
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !a.ValidateKey(key) {
			a.logger.Warn("API key validation failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("key", util.MaskToken(key)))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Next()
	}
}
