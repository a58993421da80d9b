package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// ProfileKey is the context key for the settings profile.
const ProfileKey contextKey = "profile"

// DefaultProfile is used when the client names none.
const DefaultProfile = "default"

// ProfileExtractor reads the settings profile from the X-Profile header,
// then the profile query parameter, falling back to DefaultProfile.
func ProfileExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile := strings.TrimSpace(r.Header.Get("X-Profile"))
		if profile == "" {
			profile = strings.TrimSpace(r.URL.Query().Get("profile"))
		}
		if profile == "" {
			profile = DefaultProfile
		}
		next.ServeHTTP(w, r.WithContext(WithProfile(r.Context(), profile)))
	})
}

// WithProfile stores profile in ctx.
func WithProfile(ctx context.Context, profile string) context.Context {
	return context.WithValue(ctx, ProfileKey, profile)
}

// GetProfile retrieves the profile from the request context.
func GetProfile(ctx context.Context) string {
	if v, ok := ctx.Value(ProfileKey).(string); ok && v != "" {
		return v
	}
	return DefaultProfile
}
