package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/pdf-binder/internal/config"
	"github.com/yourusername/pdf-binder/internal/roster"
	"github.com/yourusername/pdf-binder/internal/session"
)

type upload struct {
	name    string
	content string
}

func pdfFile(name string) upload {
	return upload{name: name, content: "%PDF-1.4\n% " + name + "\n%%EOF\n"}
}

func newTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *roster.Roster) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if cfg == nil {
		cfg = &config.Config{MaxFileSize: 1 << 20, MaxFiles: 10}
	}
	r := roster.New(roster.Options{MaxFiles: cfg.MaxFiles, MaxFileSize: cfg.MaxFileSize})
	h := NewRosterHandler(cfg, "/api/roster", slog.New(slog.NewTextHandler(io.Discard, nil)))

	router := gin.New()
	g := router.Group("/api/roster", func(c *gin.Context) {
		session.WithRoster(c, "ws-test", r)
		c.Next()
	})
	g.GET("", h.View)
	g.DELETE("", h.Clear)
	g.POST("/files", h.Ingest)
	g.DELETE("/files/:position", h.Remove)
	g.POST("/files/:position/up", h.MoveUp)
	g.POST("/files/:position/down", h.MoveDown)
	g.POST("/files/:position/rotate", h.Rotate)
	g.POST("/swap", h.Swap)
	g.PUT("/order", h.Reorder)
	g.POST("/move", h.Move)
	return router, r
}

func multipartBody(t *testing.T, field string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		w, err := writer.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, f.content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) roster.View {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v roster.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func itemNames(v roster.View) []string {
	out := make([]string, len(v.Items))
	for i, it := range v.Items {
		out[i] = it.Name
	}
	return out
}

func ingest(t *testing.T, router *gin.Engine, files ...upload) {
	t.Helper()
	for _, f := range files {
		body, ct := multipartBody(t, "files[]", f)
		req := httptest.NewRequest(http.MethodPost, "/api/roster/files", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestIngestSkipsSilently(t *testing.T) {
	router, r := newTestRouter(t, nil)
	ingest(t, router, pdfFile("A.pdf"))

	body, ct := multipartBody(t, "files",
		pdfFile("B.pdf"),
		upload{name: "notes.txt", content: "just text"},
		pdfFile("A.pdf"),
	)
	req := httptest.NewRequest(http.MethodPost, "/api/roster/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Roster  roster.View      `json:"roster"`
		Skipped []roster.Skipped `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Roster.Count)
	assert.ElementsMatch(t, []roster.Skipped{
		{Name: "notes.txt", Reason: roster.SkipNotPDF},
		{Name: "A.pdf", Reason: roster.SkipDuplicate},
	}, resp.Skipped)
	assert.Equal(t, 2, r.Len())
}

func TestIngestTooLarge(t *testing.T) {
	router, r := newTestRouter(t, &config.Config{MaxFileSize: 16, MaxFiles: 100})
	body, ct := multipartBody(t, "files[]", pdfFile("big-file-name.pdf"))
	req := httptest.NewRequest(http.MethodPost, "/api/roster/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), string(roster.SkipTooLarge))
	assert.Zero(t, r.Len())
}

func TestIngestWithoutFiles(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	body, ct := multipartBody(t, "other")
	req := httptest.NewRequest(http.MethodPost, "/api/roster/files", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestViewIncludesURLsAndFlags(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	ingest(t, router, pdfFile("A.pdf"), pdfFile("B.pdf"), pdfFile("C.pdf"))

	v := decodeView(t, doJSON(router, http.MethodGet, "/api/roster", ""))
	require.Len(t, v.Items, 3)
	assert.True(t, v.MergeEnabled)
	assert.True(t, v.ClearEnabled)
	for i, it := range v.Items {
		assert.Equal(t, i > 0, it.CanMoveUp)
		assert.Equal(t, i < 2, it.CanMoveDown)
		assert.Equal(t, "/api/roster/files/"+it.ID+"/thumbnail", it.ThumbnailURL)
		assert.Equal(t, "/api/roster/files/"+it.ID+"/preview", it.PreviewURL)
	}
}

func TestPositionOperations(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	ingest(t, router, pdfFile("A.pdf"), pdfFile("B.pdf"), pdfFile("C.pdf"))

	v := decodeView(t, doJSON(router, http.MethodPost, "/api/roster/files/2/up", ""))
	assert.Equal(t, []string{"A.pdf", "C.pdf", "B.pdf"}, itemNames(v))

	v = decodeView(t, doJSON(router, http.MethodPost, "/api/roster/files/0/down", ""))
	assert.Equal(t, []string{"C.pdf", "A.pdf", "B.pdf"}, itemNames(v))

	v = decodeView(t, doJSON(router, http.MethodPost, "/api/roster/files/0/up", ""))
	assert.Equal(t, []string{"C.pdf", "A.pdf", "B.pdf"}, itemNames(v))

	v = decodeView(t, doJSON(router, http.MethodDelete, "/api/roster/files/9", ""))
	assert.Equal(t, 3, v.Count)

	v = decodeView(t, doJSON(router, http.MethodDelete, "/api/roster/files/1", ""))
	assert.Equal(t, []string{"C.pdf", "B.pdf"}, itemNames(v))

	rec := doJSON(router, http.MethodDelete, "/api/roster/files/first", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRotateFourTimes(t *testing.T) {
	router, _ := newTestRouter(t, nil)
	ingest(t, router, pdfFile("A.pdf"))

	want := []roster.Rotation{90, 180, 270, 0}
	for _, w := range want {
		v := decodeView(t, doJSON(router, http.MethodPost, "/api/roster/files/0/rotate", ""))
		assert.Equal(t, w, v.Items[0].Rotation)
	}
}

func TestSwapReorderMove(t *testing.T) {
	router, r := newTestRouter(t, nil)
	ingest(t, router, pdfFile("A.pdf"), pdfFile("B.pdf"), pdfFile("C.pdf"))
	ids := r.IDs()

	v := decodeView(t, doJSON(router, http.MethodPost, "/api/roster/swap", `{"a":0,"b":2}`))
	assert.Equal(t, []string{"A.pdf", "B.pdf", "C.pdf"}, itemNames(v))

	v = decodeView(t, doJSON(router, http.MethodPost, "/api/roster/swap", `{"a":1,"b":0}`))
	assert.Equal(t, []string{"B.pdf", "A.pdf", "C.pdf"}, itemNames(v))

	order, _ := json.Marshal(map[string][]string{"ids": {ids[2], ids[0], ids[1]}})
	v = decodeView(t, doJSON(router, http.MethodPut, "/api/roster/order", string(order)))
	assert.Equal(t, []string{"C.pdf", "A.pdf", "B.pdf"}, itemNames(v))

	move, _ := json.Marshal(map[string]string{"id": ids[2]})
	v = decodeView(t, doJSON(router, http.MethodPost, "/api/roster/move", string(move)))
	assert.Equal(t, []string{"A.pdf", "B.pdf", "C.pdf"}, itemNames(v))

	rec := doJSON(router, http.MethodPost, "/api/roster/swap", `{"a":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMutationsRejectedWhileMerging(t *testing.T) {
	router, r := newTestRouter(t, nil)
	ingest(t, router, pdfFile("A.pdf"), pdfFile("B.pdf"))
	_, err := r.BeginMerge()
	require.NoError(t, err)

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodDelete, "/api/roster/files/0", ""},
		{http.MethodPost, "/api/roster/files/1/up", ""},
		{http.MethodPost, "/api/roster/files/0/rotate", ""},
		{http.MethodPost, "/api/roster/swap", `{"a":0,"b":1}`},
		{http.MethodDelete, "/api/roster", ""},
	} {
		rec := doJSON(router, tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusConflict, rec.Code, tc.path)
	}

	ingest(t, router, pdfFile("C.pdf"))
	v := decodeView(t, doJSON(router, http.MethodGet, "/api/roster", ""))
	assert.True(t, v.Busy)
	assert.False(t, v.MergeEnabled)
	assert.False(t, v.ClearEnabled)
	assert.Equal(t, []string{"A.pdf", "B.pdf", "C.pdf"}, itemNames(v))

	r.EndMerge()
	v = decodeView(t, doJSON(router, http.MethodDelete, "/api/roster", ""))
	assert.Zero(t, v.Count)
}

func TestReorderKeepsFilesMissingFromOrder(t *testing.T) {
	router, r := newTestRouter(t, nil)
	ingest(t, router, pdfFile("A.pdf"), pdfFile("B.pdf"))
	stale := r.IDs()
	ingest(t, router, pdfFile("C.pdf"))

	order, _ := json.Marshal(map[string][]string{"ids": {stale[1], stale[0]}})
	v := decodeView(t, doJSON(router, http.MethodPut, "/api/roster/order", string(order)))
	assert.Equal(t, []string{"B.pdf", "A.pdf", "C.pdf"}, itemNames(v))

	v = decodeView(t, doJSON(router, http.MethodPut, "/api/roster/order", `{"ids":[]}`))
	assert.Equal(t, 3, v.Count)
}
