package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindtrack/mindtrack-go/internal/conf"
	"github.com/mindtrack/mindtrack-go/internal/datastore"
	"github.com/mindtrack/mindtrack-go/internal/dedupcache"
	"github.com/mindtrack/mindtrack-go/internal/sampling"
	"github.com/mindtrack/mindtrack-go/internal/suggestionhub"
)

const testSecret = "test-secret"

type testAPI struct {
	controller *Controller
	echo       *echo.Echo
	store      *datastore.SQLiteStore
	cache      *dedupcache.Cache
	hub        *suggestionhub.Hub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	settings := &conf.Settings{}
	settings.Security.JWTSecret = testSecret
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "api.db")

	store := &datastore.SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	cache := dedupcache.New(dedupcache.Config{
		MaxRecent:     50,
		SequenceTTL:   time.Hour,
		BlobTTL:       time.Hour,
		MinSimilarity: 0.97,
	}, nil)
	decider := sampling.New(sampling.Config{
		MaxHashDistance:     6,
		StructuralThreshold: 0.85,
		ThumbnailWidth:      256,
	}, store, cache, nil, nil)
	hub := suggestionhub.New(suggestionhub.Config{
		HeartbeatInterval: time.Minute,
		ClientBuffer:      16,
	}, nil, nil)

	e := echo.New()
	controller := New(e, settings, store, decider, cache, hub, nil, nil)
	return &testAPI{controller: controller, echo: e, store: store, cache: cache, hub: hub}
}

func token(t *testing.T, externalID string) string {
	t.Helper()
	signed, err := NewToken(testSecret, externalID, time.Hour)
	require.NoError(t, err)
	return signed
}

func screenshotPNG(t *testing.T, v uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "shot.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func (a *testAPI) upload(t *testing.T, bearer string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, data)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/screenshots", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", http.NoBody)
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAuthRequired(t *testing.T) {
	a := newTestAPI(t)

	rec := a.upload(t, "", screenshotPNG(t, 128))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.upload(t, "not-a-token", screenshotPNG(t, 128))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	wrong, err := NewToken("other-secret", "alice", time.Hour)
	require.NoError(t, err)
	rec = a.upload(t, wrong, screenshotPNG(t, 128))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUploadProvisionsUserAndRecords(t *testing.T) {
	a := newTestAPI(t)

	rec := a.upload(t, token(t, "alice"), screenshotPNG(t, 128))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var decision sampling.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Success)
	assert.Equal(t, sampling.ActionNew, decision.Action)
	require.NotZero(t, decision.CurrentImageID)

	user, err := a.store.GetUserByExternalID("alice")
	require.NoError(t, err)
	record, err := a.store.GetScreenshotByUserAndID(user.ID, decision.CurrentImageID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusPending, record.AnalysisStatus)
}

func TestUploadRejectsNonImage(t *testing.T) {
	a := newTestAPI(t)

	rec := a.upload(t, token(t, "bob"), []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRequiresImageField(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/screenshots", strings.NewReader(""))
	req.Header.Set(echo.HeaderContentType, "multipart/form-data; boundary=x")
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "carol"))
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalysisResultAndLatestSuggestion(t *testing.T) {
	a := newTestAPI(t)
	bearer := token(t, "dave")

	rec := a.upload(t, bearer, screenshotPNG(t, 128))
	require.Equal(t, http.StatusOK, rec.Code)
	var decision sampling.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))

	user, err := a.store.GetUserByExternalID("dave")
	require.NoError(t, err)
	_, ok := a.cache.Original(user.ID, decision.CurrentImageID)
	require.True(t, ok)

	result := fmt.Sprintf(`{
		"imageId": %d,
		"representativeImage": "img-%d.png",
		"description": "writing an email",
		"predictedActions": ["send it", "save a draft"],
		"predictedQuestions": ["Want me to proofread this?"]
	}`, decision.CurrentImageID, decision.CurrentImageID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/result", strings.NewReader(result))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	res := httptest.NewRecorder()
	a.echo.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	record, err := a.store.GetScreenshotByUserAndID(user.ID, decision.CurrentImageID)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusDone, record.AnalysisStatus)
	assert.Equal(t, "writing an email", record.AnalysisResult)

	_, ok = a.cache.Original(user.ID, decision.CurrentImageID)
	assert.False(t, ok, "analysis completion releases the cached original")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/suggestions/latest", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	res = httptest.NewRecorder()
	a.echo.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var payload datastore.SuggestionPayload
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &payload))
	assert.Equal(t, user.ID, payload.UserID)
	assert.Equal(t, "writing an email", payload.Suggestion.Description)
	require.Len(t, payload.PredictedQuestions, 1)
	assert.Equal(t, "Want me to proofread this?", payload.PredictedQuestions[0].Question)
}

func TestLatestSuggestionEmpty(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggestions/latest", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "erin"))
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalysisResultScopedToOwner(t *testing.T) {
	a := newTestAPI(t)

	rec := a.upload(t, token(t, "frank"), screenshotPNG(t, 128))
	require.Equal(t, http.StatusOK, rec.Code)
	var decision sampling.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))

	body := fmt.Sprintf(`{"imageId": %d, "description": "stolen"}`, decision.CurrentImageID)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analysis/result", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "mallory"))
	res := httptest.NewRecorder()
	a.echo.ServeHTTP(res, req)

	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestStreamReplaysMissedSuggestion(t *testing.T) {
	a := newTestAPI(t)
	bearer := token(t, "heidi")

	rec := a.upload(t, bearer, screenshotPNG(t, 128))
	require.Equal(t, http.StatusOK, rec.Code)
	user, err := a.store.GetUserByExternalID("heidi")
	require.NoError(t, err)

	suggestion := &datastore.Suggestion{UserID: user.ID, ImageID: 1, Description: "missed"}
	require.NoError(t, a.store.SaveSuggestion(suggestion))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggestions/stream?token="+bearer, http.NoBody).
		WithContext(ctx)
	req.Header.Set("Last-Event-ID", "0")
	res := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		a.echo.ServeHTTP(res, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return a.hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return")
	}

	body := res.Body.String()
	assert.Contains(t, body, "event: suggestions")
	assert.Contains(t, body, fmt.Sprintf("id: %d", suggestion.ID))
	assert.Contains(t, body, `"description":"missed"`)
}

func TestStreamDeliversPublishedEvent(t *testing.T) {
	a := newTestAPI(t)
	bearer := token(t, "grace")

	// Resolve the user up front so the publish targets the right id.
	rec := a.upload(t, bearer, screenshotPNG(t, 128))
	require.Equal(t, http.StatusOK, rec.Code)
	user, err := a.store.GetUserByExternalID("grace")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/suggestions/stream?token="+bearer, http.NoBody).
		WithContext(ctx)
	res := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		a.echo.ServeHTTP(res, req)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return a.hub.ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond, "stream never subscribed")

	a.hub.Publish(user.ID, map[string]any{"id": 9}, "9")

	// Give the event loop a moment to drain before tearing the stream down.
	// The recorder is not safe for concurrent reads, so the body is only
	// inspected after the handler returns.
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return")
	}

	body := res.Body.String()
	assert.Contains(t, body, "event: heartbeat")
	assert.Contains(t, body, "event: suggestions")
	assert.Contains(t, body, "id: 9")
	assert.Contains(t, body, `data: {"id":9}`)
	assert.True(t, strings.HasPrefix(res.Header().Get(echo.HeaderContentType), "text/event-stream"))
	assert.Equal(t, 0, a.hub.ClientCount())
}
