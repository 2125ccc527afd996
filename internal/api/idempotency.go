package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
)

type cachedResponse struct {
	status      int
	contentType string
	body        []byte
}

// IdempotencyCache remembers successful POST responses by client key so a
// retried sale or report does not issue a second certificate.
type IdempotencyCache struct {
	cache *expirable.LRU[string, cachedResponse]
}

func NewIdempotencyCache(size int, ttl time.Duration) *IdempotencyCache {
	if size <= 0 {
		size = 1024
	}
	return &IdempotencyCache{cache: expirable.NewLRU[string, cachedResponse](size, nil, ttl)}
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays the stored response for a repeated key. Keys are
// scoped to the route and the caller's session.
func (ic *IdempotencyCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyHeader)
		if key == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		scope := c.Request.URL.Path + "|" + key
		if claims, ok := sessionFrom(c); ok {
			scope = claims.Subject + "|" + scope
		}

		if cached, ok := ic.cache.Get(scope); ok {
			c.Header(replayedHeader, "true")
			c.Data(cached.status, cached.contentType, cached.body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// Handlers report failures through c.Error and leave rendering to
		// ErrorHandler, so an unwritten response is not a success.
		if len(c.Errors) > 0 || !w.Written() {
			return
		}
		status := w.Status()
		if status >= 200 && status < 300 {
			ic.cache.Add(scope, cachedResponse{
				status:      status,
				contentType: w.Header().Get("Content-Type"),
				body:        append([]byte(nil), w.body.Bytes()...),
			})
		}
	}
}
