package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/pdf-binder/internal/config"
	"github.com/yourusername/pdf-binder/internal/roster"
)

type harness struct {
	router   *gin.Engine
	manager  *Manager
	registry *roster.Registry
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := roster.NewRegistry(roster.Options{}, time.Hour)
	manager := NewManager(cfg, registry, nil)

	router := gin.New()
	store := cookie.NewStore([]byte("test-session-secret"))
	router.Use(sessions.Sessions(CookieName, store))
	router.POST("/api/session", manager.Start)

	protected := router.Group("/api", manager.RequireWorkspace(), manager.VerifyCSRF())
	protected.DELETE("/session", manager.End)
	protected.GET("/roster", func(c *gin.Context) {
		id, r, ok := FromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"workspaceId": id, "count": r.Len()})
	})
	protected.POST("/roster/touch", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return &harness{router: router, manager: manager, registry: registry}
}

func (h *harness) do(method, path, body string, cookies []*http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func (h *harness) start(t *testing.T) ([]*http.Cookie, string) {
	t.Helper()
	rec := h.do(http.MethodPost, "/api/session", "", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	token := rec.Header().Get(csrfHeader)
	require.NotEmpty(t, token)
	return rec.Result().Cookies(), token
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

func TestStartCreatesWorkspace(t *testing.T) {
	h := newHarness(t, &config.Config{})
	cookies, _ := h.start(t)
	assert.Equal(t, 1, h.registry.Len())

	rec := h.do(http.MethodGet, "/api/roster", "", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		WorkspaceID string `json:"workspaceId"`
		Count       int    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.WorkspaceID)
	assert.Zero(t, body.Count)
}

func TestStartReplacesPreviousWorkspace(t *testing.T) {
	h := newHarness(t, &config.Config{})
	cookies, _ := h.start(t)

	rec := h.do(http.MethodPost, "/api/session", "", cookies, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, h.registry.Len())
}

func TestRequireWorkspaceWithoutSession(t *testing.T) {
	h := newHarness(t, &config.Config{})
	rec := h.do(http.MethodGet, "/api/roster", "", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "NO_WORKSPACE", decodeCode(t, rec))
}

func TestVerifyCSRF(t *testing.T) {
	h := newHarness(t, &config.Config{})
	cookies, token := h.start(t)

	rec := h.do(http.MethodPost, "/api/roster/touch", "", cookies, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "CSRF_INVALID", decodeCode(t, rec))

	rec = h.do(http.MethodPost, "/api/roster/touch", "", cookies, map[string]string{csrfHeader: token})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestIdleTimeoutDropsWorkspace(t *testing.T) {
	h := newHarness(t, &config.Config{WorkspaceIdleMinutes: 30})
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	h.manager.now = func() time.Time { return base }
	cookies, _ := h.start(t)

	h.manager.now = func() time.Time { return base.Add(31 * time.Minute) }
	rec := h.do(http.MethodGet, "/api/roster", "", cookies, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "SESSION_IDLE_TIMEOUT", decodeCode(t, rec))
	assert.Zero(t, h.registry.Len())
}

func TestEndClearsWorkspace(t *testing.T) {
	h := newHarness(t, &config.Config{})
	cookies, token := h.start(t)

	rec := h.do(http.MethodDelete, "/api/session", "", cookies, map[string]string{csrfHeader: token})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, h.registry.Len())

	rec = h.do(http.MethodGet, "/api/roster", "", cookies, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "WORKSPACE_EXPIRED", decodeCode(t, rec))
}

// mergingRoster はセッションのロースターに2ファイルを入れ、結合中にします。
func (h *harness) mergingRoster(t *testing.T, cookies []*http.Cookie) *roster.Roster {
	t.Helper()
	rec := h.do(http.MethodGet, "/api/roster", "", cookies, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		WorkspaceID string `json:"workspaceId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	r, ok := h.registry.Get(body.WorkspaceID)
	require.True(t, ok)
	for _, name := range []string{"a.pdf", "b.pdf"} {
		_, reason := r.Ingest(roster.Upload{Name: name, Content: []byte("%PDF-1.4\n%%EOF\n")})
		require.Empty(t, reason)
	}
	_, err := r.BeginMerge()
	require.NoError(t, err)
	return r
}

func TestEndWhileMerging(t *testing.T) {
	h := newHarness(t, &config.Config{})
	cookies, token := h.start(t)
	r := h.mergingRoster(t, cookies)

	rec := h.do(http.MethodDelete, "/api/session", "", cookies, map[string]string{csrfHeader: token})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "MERGE_IN_PROGRESS", decodeCode(t, rec))
	assert.Equal(t, 2, r.Len())
}

func TestStartWhileMerging(t *testing.T) {
	h := newHarness(t, &config.Config{})
	cookies, _ := h.start(t)
	r := h.mergingRoster(t, cookies)

	rec := h.do(http.MethodPost, "/api/session", "", cookies, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "MERGE_IN_PROGRESS", decodeCode(t, rec))
	assert.Equal(t, 1, h.registry.Len())
	assert.Equal(t, 2, r.Len())

	// 結合が終われば置き換えられる
	r.EndMerge()
	rec = h.do(http.MethodPost, "/api/session", "", cookies, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, h.registry.Len())
}

func TestPassphraseRateLimit(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	require.NoError(t, err)
	h := newHarness(t, &config.Config{AccessPasswordHash: string(hash)})

	rec := h.do(http.MethodPost, "/api/session", "", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	for i := 0; i < maxAttempts; i++ {
		rec = h.do(http.MethodPost, "/api/session", `{"passphrase":"wrong"}`, nil, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "INVALID_PASSPHRASE", decodeCode(t, rec))
	}

	rec = h.do(http.MethodPost, "/api/session", `{"passphrase":"open sesame"}`, nil, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Zero(t, h.registry.Len())
}

func TestPassphraseAccepted(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	require.NoError(t, err)
	h := newHarness(t, &config.Config{AccessPasswordHash: string(hash)})

	rec := h.do(http.MethodPost, "/api/session", `{"passphrase":"open sesame"}`, nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(csrfHeader))
	assert.Equal(t, 1, h.registry.Len())
}
