package middleware

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func TestRedact(t *testing.T) {
	in := "id=123e4567-e89b-12d3-a456-426614174000&mail=bob@example.com&tel=+1 212-555-1212"
	got := redact(in)
	for _, leaked := range []string{"123e4567", "bob@example.com", "555-1212"} {
		if strings.Contains(got, leaked) {
			t.Fatalf("redact leaked %q: %s", leaked, got)
		}
	}
	for _, marker := range []string{"[REDACTED:id]", "[REDACTED:email]", "[REDACTED:phone]"} {
		if !strings.Contains(got, marker) {
			t.Fatalf("redact missing %s: %s", marker, got)
		}
	}
	if redact("") != "" {
		t.Fatalf("empty input must stay empty")
	}
}

func TestRedactingLogger_ScrubsAndBindsContext(t *testing.T) {
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{MaskHeaders: []string{" X-Api-Key "}}))
	r.Use(func(c *gin.Context) { c.Set(userIDKey, "bob"); c.Next() })
	r.GET("/chats/:id/messages", func(c *gin.Context) {
		log.Ctx(c.Request.Context()).Info().Msg("inside")
		c.String(http.StatusOK, "ok")
	})

	do(r, http.MethodGet, "/chats/c1/messages?email=alice@example.com", nil, map[string]string{
		"Authorization": "Bearer secret-token",
		"X-Api-Key":     "k-123",
		"X-Note":        "call 212-555-1212",
		requestIDHeader: "rid-r",
	})

	rec := lastWithMessage(t, buf, "http_request")
	if rec["level"] != "info" || rec["path"] != "/chats/:id/messages" || rec["user_id"] != "bob" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if q, _ := rec["query"].(string); strings.Contains(q, "alice@example.com") {
		t.Fatalf("query not scrubbed: %q", q)
	}
	headers, _ := rec["headers"].(map[string]any)
	if headers["Authorization"] != "[REDACTED]" || headers["X-Api-Key"] != "[REDACTED]" {
		t.Fatalf("sensitive headers not masked: %v", headers)
	}
	if note, _ := headers["X-Note"].(string); strings.Contains(note, "555-1212") {
		t.Fatalf("header value not scrubbed: %q", note)
	}
	if inner := lastWithMessage(t, buf, "inside"); inner["request_id"] != "rid-r" {
		t.Fatalf("request logger not bound to context: %v", inner)
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	do(r, http.MethodGet, "/warn", nil, nil)
	if rec := lastWithMessage(t, buf, "http_request"); rec["level"] != "warn" {
		t.Fatalf("4xx should be warn: %v", rec)
	}
	do(r, http.MethodGet, "/fail", nil, nil)
	if rec := lastWithMessage(t, buf, "http_request"); rec["level"] != "error" {
		t.Fatalf("5xx should be error: %v", rec)
	}
}
