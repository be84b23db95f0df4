package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundloom/soundloom/config"
	"github.com/soundloom/soundloom/internal/data"
	"github.com/soundloom/soundloom/internal/domain/lock"
	"github.com/soundloom/soundloom/internal/domain/model"
	apperrors "github.com/soundloom/soundloom/internal/errors"
	"github.com/soundloom/soundloom/internal/monitor"
	"github.com/soundloom/soundloom/internal/service"
	"github.com/soundloom/soundloom/internal/urlcheck"
)

type stubMaterializeStore struct {
	gen    *model.Generation
	result *model.MaterializedResult
}

func (s *stubMaterializeStore) GetByID(ctx context.Context, id string) (*model.Generation, error) {
	if s.gen == nil || s.gen.ID != id {
		return nil, data.ErrGenerationNotFound
	}
	return s.gen, nil
}

func (s *stubMaterializeStore) GetByTaskID(ctx context.Context, taskID string) (*model.Generation, error) {
	return nil, data.ErrGenerationNotFound
}

func (s *stubMaterializeStore) MaterializedResult(ctx context.Context, generationID string) (*model.MaterializedResult, error) {
	if s.result != nil {
		return s.result, nil
	}
	return nil, data.ErrTrackNotFound
}

func (s *stubMaterializeStore) MarkMaterialized(ctx context.Context, p data.MarkMaterializedParams) (*model.MaterializedResult, error) {
	return &model.MaterializedResult{
		GenerationID: p.GenerationID,
		TrackID:      p.TrackID,
		StoragePath:  p.StoragePath,
		PublicURL:    p.PublicURL,
		ByteSize:     p.ByteSize,
		DownloadedAt: time.Now().UTC(),
	}, nil
}

type stubBlobStore struct{}

func (stubBlobStore) Put(relPath string, r io.Reader) (int64, error) {
	n, err := io.Copy(io.Discard, r)
	return n, err
}

func (stubBlobStore) PublicURL(relPath string) string {
	return "http://files.test/audio/" + relPath
}

type stubLocker struct{}

func (stubLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*lock.Lease, bool, error) {
	return lock.NewLease(key, "token", ttl, nil), true, nil
}

type stubTransport struct{}

func (stubTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("audio-bytes")),
		Header:     make(http.Header),
	}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	mon := monitor.New(monitor.Options{Config: config.MonitorConfig{
		Retention: time.Hour,
	}})

	store := &stubMaterializeStore{gen: &model.Generation{
		ID:      "gen-1",
		OwnerID: "owner-1",
		Service: "providerA",
	}}

	svc, err := service.NewMaterializer(service.MaterializerOptions{
		Store:  store,
		Blobs:  stubBlobStore{},
		Locker: stubLocker{},
		URLs:   urlcheck.New([]string{"cdn.example.com"}, []string{".mp3"}),
		Client: &http.Client{Transport: stubTransport{}},
		Config: config.MaterializeConfig{
			LockTTL:      time.Minute,
			FetchTimeout: 5 * time.Second,
			MaxBytes:     1 << 20,
		},
	})
	require.NoError(t, err)

	return NewRouter(RouterServices{Materializer: svc, Monitor: mon})
}

func doRequest(t *testing.T, handler http.Handler, method, target, owner, body string) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if owner != "" {
		req.Header.Set(OwnerHeader, owner)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRouter_Auth(t *testing.T) {
	router := newTestRouter(t)

	t.Run("missing owner header is unauthorized", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/generations/active", "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, false, body["success"])
		assert.NotEmpty(t, body["error"])
		assert.NotEmpty(t, body["timestamp"])
	})

	t.Run("blank owner header is unauthorized", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/generations/active", "   ", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRouter_Generations(t *testing.T) {
	t.Run("create returns the tracked generation", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doRequest(t, router, http.MethodPost, "/api/generations", "owner-1",
			`{"id":"gen-9","service":"providerA"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		gen := body["data"].(map[string]any)
		assert.Equal(t, "gen-9", gen["id"])
		assert.Equal(t, "owner-1", gen["owner_id"])
		assert.Equal(t, "pending", gen["status"])
	})

	t.Run("duplicate create conflicts", func(t *testing.T) {
		router := newTestRouter(t)
		doRequest(t, router, http.MethodPost, "/api/generations", "owner-1",
			`{"id":"gen-9","service":"providerA"}`)
		rec := doRequest(t, router, http.MethodPost, "/api/generations", "owner-1",
			`{"id":"gen-9","service":"providerA"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("malformed body is a bad request", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doRequest(t, router, http.MethodPost, "/api/generations", "owner-1", `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown body fields are rejected", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doRequest(t, router, http.MethodPost, "/api/generations", "owner-1",
			`{"id":"gen-9","service":"providerA","ownerId":"smuggled"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("get hides other owners' generations", func(t *testing.T) {
		router := newTestRouter(t)
		doRequest(t, router, http.MethodPost, "/api/generations", "owner-1",
			`{"id":"gen-9","service":"providerA"}`)

		rec := doRequest(t, router, http.MethodGet, "/api/generations/gen-9", "owner-2", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = doRequest(t, router, http.MethodGet, "/api/generations/gen-9", "owner-1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("active list is scoped to the caller", func(t *testing.T) {
		router := newTestRouter(t)
		doRequest(t, router, http.MethodPost, "/api/generations", "owner-1",
			`{"id":"gen-a","service":"providerA"}`)
		doRequest(t, router, http.MethodPost, "/api/generations", "owner-2",
			`{"id":"gen-b","service":"providerA"}`)

		rec := doRequest(t, router, http.MethodGet, "/api/generations/active", "owner-1", "")
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		list := body["data"].([]any)
		require.Len(t, list, 1)
		assert.Equal(t, "gen-a", list[0].(map[string]any)["id"])
	})
}

func TestRouter_Materialize(t *testing.T) {
	t.Run("success returns the materialized track", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doRequest(t, router, http.MethodPost, "/api/generations/materialize", "owner-1",
			`{"generationId":"gen-1","externalUrl":"https://cdn.example.com/tracks/song.mp3"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["success"])
		res := body["data"].(map[string]any)
		assert.Equal(t, "gen-1", res["generationId"])
		assert.NotEmpty(t, res["trackId"])
		assert.Equal(t, float64(len("audio-bytes")), res["fileSize"])
		assert.Contains(t, res["localAudioUrl"], "http://files.test/audio/owner-1/providerA/gen-1/")
		assert.Nil(t, res["duplicate"])
	})

	t.Run("caller must own the generation", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doRequest(t, router, http.MethodPost, "/api/generations/materialize", "owner-2",
			`{"generationId":"gen-1","externalUrl":"https://cdn.example.com/tracks/song.mp3"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("disallowed url is forbidden", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doRequest(t, router, http.MethodPost, "/api/generations/materialize", "owner-1",
			`{"generationId":"gen-1","externalUrl":"http://cdn.example.com/tracks/song.mp3"}`)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown generation is not found", func(t *testing.T) {
		router := newTestRouter(t)
		rec := doRequest(t, router, http.MethodPost, "/api/generations/materialize", "owner-1",
			`{"generationId":"nope","externalUrl":"https://cdn.example.com/tracks/song.mp3"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(t)

	t.Run("get responds with status body and no auth", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/healthz", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok","service":"soundloom"}`, rec.Body.String())
	})

	t.Run("head responds without a body", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodHead, "/healthz", "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperrors.Validation("bad"), http.StatusBadRequest},
		{"auth", apperrors.Auth("who"), http.StatusUnauthorized},
		{"forbidden", apperrors.Forbidden("no"), http.StatusForbidden},
		{"security", apperrors.Security("blocked"), http.StatusForbidden},
		{"not found", apperrors.NotFound("gone"), http.StatusNotFound},
		{"conflict", apperrors.Conflict("dup"), http.StatusConflict},
		{"rate limit", apperrors.RateLimit("slow down"), http.StatusTooManyRequests},
		{"network", apperrors.Network("boom", nil), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, statusForError(tc.err))
		})
	}
}

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecoverMiddleware(t *testing.T) {
	logger := newDiscardLogger()
	handler := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler bug")
	}))

	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
