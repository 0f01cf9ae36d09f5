package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rpattn/fieldver/internal/events"
)

type contextKey string

const userIDKey contextKey = "userID"

// UserIDHeader carries the acting user on write requests.
const UserIDHeader = "X-User-ID"

// ContextWithUserID returns a new context that carries the acting user.
func ContextWithUserID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, userIDKey, strings.TrimSpace(id))
}

// UserIDFromContext retrieves the acting user from the context, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(userIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Middleware stores the X-User-ID header in the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(UserIDHeader); strings.TrimSpace(id) != "" {
			r = r.WithContext(ContextWithUserID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// VersionUserListener answers Model.Version.beforeSave with the acting user
// so every version row records who wrote it. Version tables without a
// user_id column drop the value.
func VersionUserListener(ctx context.Context, event events.Event) (map[string]any, error) {
	id, ok := UserIDFromContext(ctx)
	if !ok {
		return nil, nil
	}
	return map[string]any{"user_id": id}, nil
}
