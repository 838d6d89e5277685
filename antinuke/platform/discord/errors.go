package discord

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/guildwarden/warden/antinuke/dispatch"
)

// Maps library errors onto dispatcher semantics: 429s become RateLimitError, other 4xx are permanent, and everything else
// is left retryable.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var rle *discordgo.RateLimitError
	if errors.As(err, &rle) && rle.RateLimit != nil && rle.TooManyRequests != nil {
		return &dispatch.RateLimitError{
			RetryAfter: rle.TooManyRequests.RetryAfter,
			Err:        err,
		}
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		code := rest.Response.StatusCode
		if code == http.StatusTooManyRequests {
			retryAfter, global := rateLimitHeaders(rest.Response.Header)
			return &dispatch.RateLimitError{RetryAfter: retryAfter, Global: global, Err: err}
		}
		if code >= 400 && code < 500 {
			return dispatch.Permanent(err)
		}
	}
	return err
}

// Reports whether the error is a 404 from the REST API.
func isNotFound(err error) bool {
	var rest *discordgo.RESTError
	return errors.As(err, &rest) && rest.Response != nil && rest.Response.StatusCode == http.StatusNotFound
}

// Reads the wait and scope of a 429 from its headers. X-RateLimit-Reset-After is preferred over Retry-After; both are
// fractional seconds.
func rateLimitHeaders(h http.Header) (time.Duration, bool) {
	global := h.Get("X-RateLimit-Global") == "true" || h.Get("X-RateLimit-Scope") == "global"
	for _, name := range []string{"X-RateLimit-Reset-After", "Retry-After"} {
		v := h.Get(name)
		if v == "" {
			continue
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil || secs < 0 {
			continue
		}
		return time.Duration(secs * float64(time.Second)), global
	}
	return 0, global
}
