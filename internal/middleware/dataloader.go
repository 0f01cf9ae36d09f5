package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/fieldver/internal/versionloader"
)

type ctxKey string

const versionLoadersKey ctxKey = "versionLoaders"

// DataLoaderMiddleware attaches one version loader per versioned table to
// the request context so version lookups made while serving the request
// are batched.
func DataLoaderMiddleware(sources map[string]versionloader.BatchSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loaders := make(map[string]*versionloader.VersionLoader, len(sources))
			for table, source := range sources {
				loaders[table] = versionloader.NewVersionLoader(source)
			}

			ctx := context.WithValue(r.Context(), versionLoadersKey, loaders)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// VersionLoaderFromContext retrieves the request's loader for table.
func VersionLoaderFromContext(ctx context.Context, table string) *versionloader.VersionLoader {
	if loaders, ok := ctx.Value(versionLoadersKey).(map[string]*versionloader.VersionLoader); ok {
		return loaders[table]
	}
	return nil
}
