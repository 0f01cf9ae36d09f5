package graphql

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/fieldver/internal/auth"
	"github.com/rpattn/fieldver/internal/db"
	"github.com/rpattn/fieldver/internal/domain"
	"github.com/rpattn/fieldver/internal/events"
	"github.com/rpattn/fieldver/internal/middleware"
	"github.com/rpattn/fieldver/internal/repository"
	"github.com/rpattn/fieldver/internal/schema"
	"github.com/rpattn/fieldver/internal/versioning"
	"github.com/rpattn/fieldver/internal/versionloader"
)

var testSchema = []string{
	`CREATE TABLE articles (
		id INTEGER PRIMARY KEY,
		version_id INTEGER,
		title VARCHAR(255),
		body TEXT
	)`,
	`CREATE TABLE versions_with_user (
		id INTEGER PRIMARY KEY,
		version_id INTEGER NOT NULL,
		user_id INTEGER,
		model VARCHAR(255) NOT NULL,
		foreign_key INTEGER NOT NULL,
		field VARCHAR(255) NOT NULL,
		content TEXT
	)`,
}

// countingSource records how many batches reach the behavior.
type countingSource struct {
	versionloader.BatchSource
	batches atomic.Int32
}

func (s *countingSource) GetVersionsBatch(ctx context.Context, entities []*domain.Entity) ([]*domain.VersionSet, error) {
	s.batches.Add(1)
	return s.BatchSource.GetVersionsBatch(ctx, entities)
}

type testServer struct {
	conn    *db.Connection
	handler http.Handler
	source  *countingSource
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	conn, err := db.NewConnection(ctx, db.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "graphql.db")})
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	for _, stmt := range testSchema {
		_, err := conn.DB.Exec(stmt)
		require.NoError(t, err)
	}

	manager := events.NewManager()
	manager.On(events.VersionBeforeSave, auth.VersionUserListener)

	table, err := repository.NewTable(ctx, conn, schema.NewSQLProvider(conn), "articles")
	require.NoError(t, err)
	behavior, err := versioning.Attach(ctx, table, versioning.Config{
		VersionTable:            "versions_with_user",
		AdditionalVersionFields: []versioning.AdditionalField{{Name: "version_user_id", Column: "user_id"}},
	}, manager)
	require.NoError(t, err)

	for _, title := range []string{"First", "Second"} {
		e := table.NewEntity(map[string]any{"title": title, "body": title + " body"})
		require.NoError(t, table.Save(ctx, e, nil))
	}

	es, err := NewExecutableSchema(NewResolver(behavior))
	require.NoError(t, err)
	srv := handler.New(es)
	srv.AddTransport(transport.POST{})
	srv.Use(&middleware.ResolverLoggerExtension{})

	source := &countingSource{BatchSource: behavior}
	h := middleware.LoggingMiddleware(auth.Middleware(
		middleware.DataLoaderMiddleware(map[string]versionloader.BatchSource{"articles": source})(srv),
	))
	return &testServer{conn: conn, handler: h, source: source}
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
		Path    []any  `json:"path"`
	} `json:"errors"`
}

func (s *testServer) query(t *testing.T, query string, variables map[string]any, headers map[string]string) gqlResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out gqlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestVersionsQuery(t *testing.T) {
	s := newTestServer(t)

	resp := s.query(t, `query($pk: [String!]!) {
		tables
		versions(table: "articles", pk: $pk) { id fields __typename }
	}`, map[string]any{"pk": []string{"1"}}, nil)
	require.Empty(t, resp.Errors)

	var data struct {
		Tables   []string `json:"tables"`
		Versions []struct {
			ID       int64          `json:"id"`
			Fields   map[string]any `json:"fields"`
			Typename string         `json:"__typename"`
		} `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Equal(t, []string{"articles"}, data.Tables)
	require.Len(t, data.Versions, 1)
	require.EqualValues(t, 1, data.Versions[0].ID)
	require.Equal(t, "First", data.Versions[0].Fields["title"])
	require.Equal(t, "Version", data.Versions[0].Typename)
}

func TestVersionQueryMissingVersionIsNull(t *testing.T) {
	s := newTestServer(t)

	resp := s.query(t, `{ version(table: "articles", pk: ["1"], id: 7) { id } }`, nil, nil)
	require.Empty(t, resp.Errors)
	require.JSONEq(t, `{"version": null}`, string(resp.Data))
}

func TestPatchRecordMutation(t *testing.T) {
	s := newTestServer(t)

	resp := s.query(t, `mutation($values: JSON!) {
		patchRecord(table: "articles", pk: ["1"], values: $values) { versionId record }
	}`, map[string]any{"values": map[string]any{"title": "First edited"}}, map[string]string{auth.UserIDHeader: "9"})
	require.Empty(t, resp.Errors)

	var data struct {
		PatchRecord struct {
			VersionID int64          `json:"versionId"`
			Record    map[string]any `json:"record"`
		} `json:"patchRecord"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.EqualValues(t, 2, data.PatchRecord.VersionID)
	require.Equal(t, "First edited", data.PatchRecord.Record["title"])

	var users []int64
	require.NoError(t, s.conn.DB.Select(&users, `SELECT user_id FROM versions_with_user WHERE foreign_key = 1 AND version_id = 2`))
	require.NotEmpty(t, users)
	for _, user := range users {
		require.EqualValues(t, 9, user)
	}

	resp = s.query(t, `{ version(table: "articles", pk: ["1"], id: 2) { meta } }`, nil, nil)
	require.Empty(t, resp.Errors)
	require.Contains(t, string(resp.Data), `"version_user_id":9`)
}

func TestPatchRecordMutationValidation(t *testing.T) {
	s := newTestServer(t)

	for values, message := range map[string]string{
		`{"nope": 1}`: `unknown column "nope"`,
		`{"id": 5}`:   `primary key column "id" cannot be patched`,
	} {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal([]byte(values), &decoded))
		resp := s.query(t, `mutation($values: JSON!) {
			patchRecord(table: "articles", pk: ["1"], values: $values) { versionId }
		}`, map[string]any{"values": decoded}, nil)
		require.Len(t, resp.Errors, 1)
		require.Contains(t, resp.Errors[0].Message, message)
		require.Equal(t, []any{"patchRecord"}, resp.Errors[0].Path)
	}

	resp := s.query(t, `{ versions(table: "missing", pk: ["1"]) { id } }`, nil, nil)
	require.Len(t, resp.Errors, 1)
	require.Contains(t, resp.Errors[0].Message, `unknown table "missing"`)
}

func TestRecordsQueryBatchesVersionLoads(t *testing.T) {
	s := newTestServer(t)

	resp := s.query(t, `query($ids: [[String!]!]) {
		records(table: "articles", ids: $ids) { key data versions { id } }
	}`, map[string]any{"ids": [][]string{{"1"}, {"2"}}}, nil)
	require.Empty(t, resp.Errors)

	var data struct {
		Records []struct {
			Key      []string       `json:"key"`
			Data     map[string]any `json:"data"`
			Versions []struct {
				ID int64 `json:"id"`
			} `json:"versions"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data.Records, 2)
	require.Equal(t, []string{"1"}, data.Records[0].Key)
	require.Equal(t, "Second", data.Records[1].Data["title"])
	for _, rec := range data.Records {
		require.Len(t, rec.Versions, 1)
	}
	require.EqualValues(t, 1, s.source.batches.Load())
}

func TestVersionDiffQuery(t *testing.T) {
	s := newTestServer(t)

	resp := s.query(t, `mutation($values: JSON!) {
		patchRecord(table: "articles", pk: ["1"], values: $values) { versionId }
	}`, map[string]any{"values": map[string]any{"title": "First edited"}}, nil)
	require.Empty(t, resp.Errors)

	resp = s.query(t, `{ versionDiff(table: "articles", pk: ["1"], id: 2) }`, nil, nil)
	require.Empty(t, resp.Errors)
	var data struct {
		VersionDiff string `json:"versionDiff"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Contains(t, data.VersionDiff, "--- version 1")
	require.Contains(t, data.VersionDiff, "+++ version 2")
	require.Contains(t, data.VersionDiff, `-  title: "First"`)
	require.Contains(t, data.VersionDiff, `+  title: "First edited"`)

	resp = s.query(t, `{ versionDiff(table: "articles", pk: ["1"], id: 9) }`, nil, nil)
	require.Len(t, resp.Errors, 1)
	require.Contains(t, resp.Errors[0].Message, "version 9 not found")
}
