package util

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Adapts slog to the retryablehttp leveled logger, demoting levels (retries are expected) and
// redacting webhook tokens from logged URLs.
type LeveledSlog struct {
	inner *slog.Logger
}

func (l LeveledSlog) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, redactArgs(keysAndValues)...)
}

func (l LeveledSlog) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, redactArgs(keysAndValues)...)
}

func (l LeveledSlog) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, redactArgs(keysAndValues)...)
}

// retry attempts are logged at debug by retryablehttp
func (l LeveledSlog) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, redactArgs(keysAndValues)...)
}

func redactArgs(kv []interface{}) []interface{} {
	out := make([]interface{}, len(kv))
	copy(out, kv)
	for i := 0; i+1 < len(out); i += 2 {
		if k, ok := out[i].(string); ok && k == "url" {
			out[i+1] = RedactWebhookURL(fmt.Sprint(out[i+1]))
		}
	}
	return out
}

// Strips the secret token from a Discord webhook URL ("/api/webhooks/<id>/<token>"), keeping the
// webhook ID so log lines can still be correlated. Other URLs are returned unchanged.
func RedactWebhookURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	parts := strings.Split(u.Path, "/")
	for i, p := range parts {
		if p == "webhooks" && i+2 < len(parts) && parts[i+2] != "" {
			parts[i+2] = "REDACTED"
			u.Path = strings.Join(parts, "/")
			u.RawQuery = ""
			return u.String()
		}
	}
	return raw
}

type WebhookClientOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Timeout      time.Duration
}

var DefaultWebhookClientOptions = WebhookClientOptions{
	RetryMax:     3,
	RetryWaitMin: 1 * time.Second,
	RetryWaitMax: 10 * time.Second,
	Timeout:      20 * time.Second,
}

// Returns an HTTP client for webhook delivery. It retries connection errors, 5xx (except 501) and
// 429 responses, respecting 'Retry-After'. Intermediate failures are logged at WARN.
//
// Platform API calls go through the dispatcher instead.
func NewWebhookClient(logger *slog.Logger, opts WebhookClientOptions) *http.Client {
	if logger == nil {
		logger = slog.Default()
	}
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.RetryMax
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = retryablehttp.LeveledLogger(LeveledSlog{logger.With("component", "webhook-http")})
	// surface the final response instead of a "giving up" error so callers can report the status
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client := retryClient.StandardClient()
	client.Timeout = opts.Timeout
	return client
}
