package llm

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRateLimitWait is used when a 429 response carries no parseable hint.
const DefaultRateLimitWait = 5 * time.Second

var (
	goDurationHint = regexp.MustCompile(`(?i)try again in\s+([0-9.]+(?:ms|s|m)(?:[0-9.]+(?:ms|s))?)\b`)
	numberHint     = regexp.MustCompile(`(?i)(?:try again|retry after|retry in)\s+(?:in\s+)?([0-9]+(?:\.[0-9]+)?)\s*(ms|milliseconds?|s|secs?|seconds?|m|mins?|minutes?)?\b`)
	retryDelayHint = regexp.MustCompile(`"retryDelay"\s*:\s*"([0-9]+(?:\.[0-9]+)?)s"`)
)

// ParseRetryHint extracts a provider-suggested wait from a Retry-After header
// value or from free error text. It is best effort: zero means no hint.
func ParseRetryHint(header string, text string) time.Duration {
	if d := parseRetryAfterHeader(header); d > 0 {
		return d
	}
	if m := retryDelayHint.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	if m := goDurationHint.FindStringSubmatch(text); m != nil {
		if d, err := time.ParseDuration(m[1]); err == nil {
			return d
		}
	}
	if m := numberHint.FindStringSubmatch(text); m != nil {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0
		}
		unit := strings.ToLower(m[2])
		switch {
		case strings.HasPrefix(unit, "ms") || strings.HasPrefix(unit, "milli"):
			return time.Duration(f * float64(time.Millisecond))
		case strings.HasPrefix(unit, "m"):
			return time.Duration(f * float64(time.Minute))
		default:
			return time.Duration(f * float64(time.Second))
		}
	}
	return 0
}

func parseRetryAfterHeader(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
