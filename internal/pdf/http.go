package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/pdf-binder/internal/roster"
	"github.com/yourusername/pdf-binder/internal/session"
)

const (
	minThumbnailWidth = 16
	maxThumbnailWidth = 1024
)

// JobRunner はジョブを実行できるサービスが実装します。
type JobRunner interface {
	RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error)
	DiscardJob(jobID string) error
}

// MergeService は結合ジョブの準備と実行を提供します。
type MergeService interface {
	JobRunner
	PrepareMergeJob(ctx context.Context, workspaceID string, inputs []MergeInput, filename string) (*JobManifest, error)
}

// ResultOpener はジョブの成果物を開きます。
type ResultOpener interface {
	OpenResultFile(jobID string) (*Result, *os.File, error)
}

// PreviewRenderer はプレビュー画像を生成します。失敗時もプレースホルダー画像を返します。
type PreviewRenderer interface {
	Thumbnail(ctx context.Context, fileID string, content []byte, width int) []byte
	Preview(ctx context.Context, fileID string, content []byte, scale float64) []byte
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
// workspaceID のロースターはジョブが終わるまで結合中のままになります。
type JobScheduler interface {
	Schedule(ctx context.Context, op OperationType, jobID, workspaceID string) error
}

// HandlerOptions は同期/非同期切り替えとダウンロード名の設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
	AsyncThresholdPages int
	DownloadPrefix      string
	Logger              *slog.Logger
}

type mergeRequest struct {
	Filename string `json:"filename"`
}

// MergeHandler は POST /api/roster/merge のハンドラーを返します。
// ロースターの並び順・回転のまま結合し、結果をダウンロードとして返します。
func MergeHandler(svc MergeService, opts HandlerOptions) gin.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		workspaceID, r, ok := session.FromContext(c)
		if !ok {
			respondNoWorkspace(c)
			return
		}

		var req mergeRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "filename を JSON で指定してください。",
			})
			return
		}

		records, err := r.BeginMerge()
		if err != nil {
			respondWithError(c, rosterError(err))
			return
		}

		queued := false
		defer func() {
			if !queued {
				r.EndMerge()
			}
		}()

		filename, err := DownloadFilename(req.Filename, opts.DownloadPrefix)
		if err != nil {
			respondWithError(c, err)
			return
		}
		manifest, err := svc.PrepareMergeJob(c.Request.Context(), workspaceID, MergeInputsFromRecords(records), filename)
		if err != nil {
			respondWithError(c, err)
			return
		}

		log := logger.With("jobId", manifest.JobID, "workspaceId", workspaceID)

		if shouldProcessAsync(manifest, opts) {
			if err := opts.Scheduler.Schedule(c.Request.Context(), manifest.Operation, manifest.JobID, workspaceID); err != nil {
				if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
					err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
				}
				log.Error("failed to enqueue merge", "error", err)
				respondWithError(c, err)
				return
			}
			queued = true
			log.Info("merge queued", "files", len(manifest.Files), "bytes", manifest.TotalSize())
			c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
			return
		}

		result, err := svc.RunJob(c.Request.Context(), manifest.JobID, nil)
		if err != nil {
			log.Warn("merge failed", "error", err)
			respondWithError(c, err)
			return
		}
		defer result.Cleanup()

		log.Info("merge completed", "files", len(manifest.Files), "bytes", result.OutputSize)
		if err := streamResult(c, result, "結合結果の読み込みに失敗しました"); err != nil {
			respondWithError(c, err)
		}
	}
}

// ThumbnailHandler は GET /api/roster/files/:id/thumbnail のハンドラーを返します。
func ThumbnailHandler(renderer PreviewRenderer, defaultWidth int) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := findRecord(c)
		if !ok {
			return
		}
		width := defaultWidth
		if raw := strings.TrimSpace(c.Query("width")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < minThumbnailWidth || n > maxThumbnailWidth {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": fmt.Sprintf("width は %d〜%d の整数で指定してください。", minThumbnailWidth, maxThumbnailWidth),
				})
				return
			}
			width = n
		}
		sendPNG(c, renderer.Thumbnail(c.Request.Context(), rec.ID, rec.Content(), width))
	}
}

// PreviewHandler は GET /api/roster/files/:id/preview のハンドラーを返します。
func PreviewHandler(renderer PreviewRenderer, defaultScale float64) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, ok := findRecord(c)
		if !ok {
			return
		}
		scale := defaultScale
		if raw := strings.TrimSpace(c.Query("scale")); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    "INVALID_INPUT",
					"message": "scale は正の数で指定してください。",
				})
				return
			}
			scale = v
		}
		sendPNG(c, renderer.Preview(c.Request.Context(), rec.ID, rec.Content(), scale))
	}
}

// ResultDownloadHandler は GET /api/jobs/:id/download のハンドラーを返します。
func ResultDownloadHandler(svc ResultOpener) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		if strings.TrimSpace(jobID) == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "jobId を指定してください。",
			})
			return
		}

		result, file, err := svc.OpenResultFile(jobID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "ジョブの成果物が見つかりませんでした。",
				})
				return
			}
			respondWithError(c, err)
			return
		}
		defer file.Close()

		sendAttachment(c, result, file)
	}
}

func shouldProcessAsync(manifest *JobManifest, opts HandlerOptions) bool {
	if manifest == nil || opts.Scheduler == nil {
		return false
	}
	if opts.AsyncThresholdBytes > 0 && manifest.TotalSize() > opts.AsyncThresholdBytes {
		return true
	}
	if opts.AsyncThresholdPages > 0 && manifest.TotalPages() > opts.AsyncThresholdPages {
		return true
	}
	return false
}

func rosterError(err error) error {
	switch {
	case errors.Is(err, roster.ErrBusy):
		return newError("MERGE_IN_PROGRESS", "結合処理中です。完了までお待ちください。", err)
	case errors.Is(err, roster.ErrTooFewFiles):
		return newError("NOT_ENOUGH_FILES", "結合するにはPDFファイルを2つ以上追加してください。", err)
	default:
		return err
	}
}

func findRecord(c *gin.Context) (roster.FileRecord, bool) {
	_, r, ok := session.FromContext(c)
	if !ok {
		respondNoWorkspace(c)
		return roster.FileRecord{}, false
	}
	rec, found := r.Find(c.Param("id"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "FILE_NOT_FOUND",
			"message": "指定されたファイルは登録されていません。",
		})
		return roster.FileRecord{}, false
	}
	return rec, true
}

func sendPNG(c *gin.Context, data []byte) {
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "image/png", data)
}

func respondNoWorkspace(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{
		"code":    "NO_WORKSPACE",
		"message": "ワークスペースを開始してください。",
	})
}

// StatusFor は Error のコードに対応する HTTP ステータスを返します。
func StatusFor(code string) int {
	switch code {
	case "LIMIT_EXCEEDED":
		return http.StatusRequestEntityTooLarge
	case "MERGE_IN_PROGRESS":
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		c.JSON(StatusFor(apiErr.Code), gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func streamResult(c *gin.Context, result *Result, readErrMsg string) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("%s: %w", readErrMsg, err)
	}
	defer file.Close()

	sendAttachment(c, result, file)
	return nil
}

func sendAttachment(c *gin.Context, result *Result, body io.Reader) {
	const contentType = "application/pdf"
	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, body, nil)
}
