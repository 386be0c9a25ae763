// Package api はロースター操作の HTTP ハンドラーを提供します。
// どの変更系エンドポイントも、変更後のロースター全体を返します。
package api

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/pdf-binder/internal/config"
	"github.com/yourusername/pdf-binder/internal/roster"
	"github.com/yourusername/pdf-binder/internal/session"
)

const defaultReadConcurrency = 4

// RosterHandler は /api/roster 配下のハンドラーです。
type RosterHandler struct {
	basePath        string
	maxFileSize     int64
	maxRequestBytes int64
	concurrency     int
	logger          *slog.Logger
}

// NewRosterHandler は RosterHandler を作成します。basePath はサムネイルURLの組み立てに使います。
func NewRosterHandler(cfg *config.Config, basePath string, logger *slog.Logger) *RosterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	var maxRequest int64
	if cfg.MaxFileSize > 0 && cfg.MaxFiles > 0 {
		maxRequest = cfg.MaxFileSize * int64(cfg.MaxFiles)
	}
	return &RosterHandler{
		basePath:        basePath,
		maxFileSize:     cfg.MaxFileSize,
		maxRequestBytes: maxRequest,
		concurrency:     defaultReadConcurrency,
		logger:          logger,
	}
}

type swapRequest struct {
	A *int `json:"a" binding:"required"`
	B *int `json:"b" binding:"required"`
}

type orderRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

type moveRequest struct {
	ID     string `json:"id" binding:"required"`
	Before string `json:"before"`
}

// View は GET /api/roster のハンドラーです。
func (h *RosterHandler) View(c *gin.Context) {
	r, ok := rosterFrom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.view(r))
}

// Ingest は POST /api/roster/files のハンドラーです。
// PDFでないファイルや同名ファイルはエラーにせず、skipped に理由を載せて返します。
func (h *RosterHandler) Ingest(c *gin.Context) {
	r, ok := rosterFrom(c)
	if !ok {
		return
	}
	if h.maxRequestBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxRequestBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    "LIMIT_EXCEEDED",
				"message": "アップロードサイズの上限を超えています。",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "multipart/form-data でPDFファイルを送信してください。",
		})
		return
	}
	defer form.RemoveAll()

	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "アップロードされたPDFファイルが見つかりません。",
		})
		return
	}

	skipped := h.ingestAll(c, r, files)
	c.JSON(http.StatusOK, gin.H{
		"roster":  h.view(r),
		"skipped": skipped,
	})
}

// ingestAll はアップロードされたファイルを並行に読み込み、読み終えた順にロースターへ追加します。
func (h *RosterHandler) ingestAll(c *gin.Context, r *roster.Roster, files []*multipart.FileHeader) []roster.Skipped {
	var mu sync.Mutex
	skipped := make([]roster.Skipped, 0)
	skip := func(name string, reason roster.SkipReason) {
		mu.Lock()
		skipped = append(skipped, roster.Skipped{Name: name, Reason: reason})
		mu.Unlock()
	}

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.SetLimit(h.concurrency)
	for _, fh := range files {
		fh := fh
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
				skip(fh.Filename, roster.SkipTooLarge)
				return nil
			}
			content, err := readPart(fh)
			if err != nil {
				h.logger.Warn("failed to read upload", "name", fh.Filename, "error", err)
				skip(fh.Filename, roster.SkipUnreadable)
				return nil
			}
			rec, reason := r.Ingest(roster.Upload{Name: fh.Filename, Content: content})
			if reason != "" {
				h.logger.Debug("upload skipped", "name", fh.Filename, "reason", reason)
				skip(fh.Filename, reason)
				return nil
			}
			h.logger.Debug("file added", "id", rec.ID, "name", rec.Name, "pages", rec.Pages)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		h.logger.Warn("ingest interrupted", "error", err)
	}
	return skipped
}

// Remove は DELETE /api/roster/files/:position のハンドラーです。
func (h *RosterHandler) Remove(c *gin.Context) {
	h.atPosition(c, (*roster.Roster).RemoveAt)
}

// MoveUp は POST /api/roster/files/:position/up のハンドラーです。
func (h *RosterHandler) MoveUp(c *gin.Context) {
	h.atPosition(c, (*roster.Roster).MoveUp)
}

// MoveDown は POST /api/roster/files/:position/down のハンドラーです。
func (h *RosterHandler) MoveDown(c *gin.Context) {
	h.atPosition(c, (*roster.Roster).MoveDown)
}

// Rotate は POST /api/roster/files/:position/rotate のハンドラーです。
func (h *RosterHandler) Rotate(c *gin.Context) {
	h.atPosition(c, (*roster.Roster).Rotate)
}

// Swap は POST /api/roster/swap のハンドラーです。
func (h *RosterHandler) Swap(c *gin.Context) {
	r, ok := rosterFrom(c)
	if !ok {
		return
	}
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, "a と b を整数で指定してください。")
		return
	}
	h.respond(c, r, r.Swap(*req.A, *req.B))
}

// Reorder は PUT /api/roster/order のハンドラーです。
func (h *RosterHandler) Reorder(c *gin.Context) {
	r, ok := rosterFrom(c)
	if !ok {
		return
	}
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, "ids をファイルIDの配列で指定してください。")
		return
	}
	h.respond(c, r, r.ReorderTo(req.IDs))
}

// Move は POST /api/roster/move のハンドラーです。
func (h *RosterHandler) Move(c *gin.Context) {
	r, ok := rosterFrom(c)
	if !ok {
		return
	}
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidInput(c, "id を指定してください。")
		return
	}
	h.respond(c, r, r.MoveBefore(req.ID, req.Before))
}

// Clear は DELETE /api/roster のハンドラーです。
func (h *RosterHandler) Clear(c *gin.Context) {
	r, ok := rosterFrom(c)
	if !ok {
		return
	}
	h.respond(c, r, r.Clear())
}

func (h *RosterHandler) atPosition(c *gin.Context, op func(*roster.Roster, int) error) {
	r, ok := rosterFrom(c)
	if !ok {
		return
	}
	position, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		invalidInput(c, "position は整数で指定してください。")
		return
	}
	h.respond(c, r, op(r, position))
}

func (h *RosterHandler) respond(c *gin.Context, r *roster.Roster, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.view(r))
	case errors.Is(err, roster.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "MERGE_IN_PROGRESS",
			"message": "結合処理中は並び替えや削除はできません。",
		})
	default:
		h.logger.Error("roster operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func (h *RosterHandler) view(r *roster.Roster) roster.View {
	v := r.View()
	for i := range v.Items {
		base := h.basePath + "/files/" + url.PathEscape(v.Items[i].ID)
		v.Items[i].ThumbnailURL = base + "/thumbnail"
		v.Items[i].PreviewURL = base + "/preview"
	}
	return v
}

func rosterFrom(c *gin.Context) (*roster.Roster, bool) {
	_, r, ok := session.FromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "NO_WORKSPACE",
			"message": "ワークスペースを開始してください。",
		})
		return nil, false
	}
	return r, true
}

func invalidInput(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"code":    "INVALID_INPUT",
		"message": message,
	})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
