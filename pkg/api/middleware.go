package api

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/docpilot-ai/agentd/pkg/session"
)

// Credential headers. Requests without them fall back to the process-wide
// defaults from the environment.
const (
	headerToken   = "X-API-Token"
	headerBaseURL = "X-API-Base-URL"
)

const (
	chatCreatePerMinute = 30
	messagePerMinute    = 10

	shutdownTimeout = 10 * time.Second
)

const credentialsKey = "credentials"

// credentials resolves the downstream credentials for the request and rejects
// requests that carry none and have no defaults to fall back to.
func (s *Server) credentials() gin.HandlerFunc {
	return func(c *gin.Context) {
		creds := session.Credentials{
			Token:   c.GetHeader(headerToken),
			BaseURL: c.GetHeader(headerBaseURL),
		}
		if creds.Token == "" {
			creds.Token = s.cfg.APIToken
		}
		if creds.BaseURL == "" {
			creds.BaseURL = s.cfg.APIBaseURL
		}
		if creds.Token == "" || creds.BaseURL == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing credentials: set " + headerToken + " and " + headerBaseURL,
			})
			return
		}
		c.Set(credentialsKey, creds)
		c.Next()
	}
}

func requestCredentials(c *gin.Context) session.Credentials {
	creds, _ := c.MustGet(credentialsKey).(session.Credentials)
	return creds
}

// credentialLimiter keeps one token bucket per credential-derived key.
type credentialLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perMin   int
}

func newCredentialLimiter(perMin int) *credentialLimiter {
	return &credentialLimiter{
		limiters: make(map[string]*rate.Limiter),
		perMin:   perMin,
	}
}

func (l *credentialLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[key] = lim
	}
	return lim.Allow()
}

func (s *Server) rateLimit(l *credentialLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		creds := requestCredentials(c)
		sum := sha256.Sum256([]byte(creds.Token + "\x00" + creds.BaseURL))
		if !l.allow(hex.EncodeToString(sum[:8])) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
