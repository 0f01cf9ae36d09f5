// Package app wires configuration, storage and versioned tables into a
// runnable HTTP service.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/fieldver/internal/auth"
	"github.com/rpattn/fieldver/internal/config"
	"github.com/rpattn/fieldver/internal/db"
	"github.com/rpattn/fieldver/internal/events"
	"github.com/rpattn/fieldver/internal/graphql"
	"github.com/rpattn/fieldver/internal/httpapi"
	"github.com/rpattn/fieldver/internal/middleware"
	"github.com/rpattn/fieldver/internal/repository"
	"github.com/rpattn/fieldver/internal/schema"
	"github.com/rpattn/fieldver/internal/versioning"
)

// App holds the open connection and the versioned tables.
type App struct {
	Config    config.Config
	Conn      *db.Connection
	Provider  schema.Provider
	Events    *events.Manager
	Behaviors []*versioning.Behavior
}

// Open connects to the database and attaches versioning to every configured
// table. The acting user of a request is recorded on version rows.
func Open(ctx context.Context, cfg config.Config) (*App, error) {
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{
		Config:   cfg,
		Conn:     conn,
		Provider: schema.NewSQLProvider(conn),
		Events:   events.NewManager(),
	}
	a.Events.On(events.VersionBeforeSave, auth.VersionUserListener)

	for _, tc := range cfg.Versioning {
		var opts []repository.TableOption
		if tc.Alias != "" {
			opts = append(opts, repository.WithAlias(tc.Alias))
		}
		table, err := repository.NewTable(ctx, conn, a.Provider, tc.Table, opts...)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to open table %s: %w", tc.Table, err)
		}
		behavior, err := versioning.Attach(ctx, table, tc.Versioning, a.Events)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to attach versioning to %s: %w", tc.Table, err)
		}
		a.Behaviors = append(a.Behaviors, behavior)
	}
	return a, nil
}

// Handler builds the HTTP handler: record endpoints, the GraphQL endpoint
// with its playground, /metrics and CORS.
func (a *App) Handler() (http.Handler, error) {
	records := httpapi.NewHandler(a.Behaviors...)

	es, err := graphql.NewExecutableSchema(graphql.NewResolver(a.Behaviors...))
	if err != nil {
		return nil, err
	}
	srv := handler.New(es)
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.Use(&middleware.ResolverLoggerExtension{})

	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware, auth.Middleware, middleware.DataLoaderMiddleware(records.Sources()))
	records.Routes(r)
	r.Handle("/query", srv)
	r.Handle("/playground", playground.Handler("fieldver", "/query"))
	r.Handle("/metrics", promhttp.Handler())

	logrus.WithField("tables", records.Tables()).Info("serving versioned tables")

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.Config.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler(r), nil
}

// Close releases the database connection.
func (a *App) Close() {
	a.Conn.Close()
}
