package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/pdf-binder/internal/config"
	"github.com/yourusername/pdf-binder/internal/jobs"
	"github.com/yourusername/pdf-binder/internal/pdf"
	"github.com/yourusername/pdf-binder/internal/roster"
	"github.com/yourusername/pdf-binder/internal/session"
)

type pdfJobScheduler struct {
	manager *jobs.Manager
}

func (s *pdfJobScheduler) Schedule(ctx context.Context, op pdf.OperationType, jobID, workspaceID string) error {
	_, err := s.manager.Enqueue(ctx, &jobs.TaskPayload{
		JobID:       jobID,
		Operation:   op,
		WorkspaceID: workspaceID,
	})
	return err
}

func jobTTL(cfg *config.Config) time.Duration {
	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	return time.Duration(ttlMinutes) * time.Minute
}

func setupJobs(cfg *config.Config, pdfService *pdf.Service, registry *roster.Registry, logger *slog.Logger) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	store := jobs.NewStore(redisClient, jobTTL(cfg))

	// ジョブが終わったらワークスペースの結合中フラグを下ろす
	settle := func(workspaceID string) {
		if r, ok := registry.Get(workspaceID); ok {
			r.EndMerge()
		}
	}
	return jobs.NewManager(cfg, pdfService, store, settle, logger)
}

// jobStatusResponse は GET /api/jobs/:id の応答です。workspaceId は返しません。
type jobStatusResponse struct {
	JobID       string            `json:"jobId"`
	Operation   string            `json:"operation"`
	Status      jobs.Status       `json:"status"`
	Progress    jobs.ProgressInfo `json:"progress"`
	DownloadURL string            `json:"downloadUrl,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	Meta        any               `json:"meta,omitempty"`
	Error       *jobs.ErrorInfo   `json:"error,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	ExpiresAt   time.Time         `json:"expiresAt"`
}

func jobStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID, _, _ := session.FromContext(c)
		jobID := strings.TrimSpace(c.Param("id"))

		record, err := manager.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		// 他のワークスペースのジョブは存在しないものとして扱う
		if record == nil || record.WorkspaceID != workspaceID {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しません。",
			})
			return
		}

		c.JSON(http.StatusOK, jobStatusResponse{
			JobID:       record.JobID,
			Operation:   record.Operation,
			Status:      record.Status,
			Progress:    record.Progress,
			DownloadURL: record.DownloadURL,
			Filename:    record.Filename,
			Meta:        record.Meta,
			Error:       record.Error,
			UpdatedAt:   record.UpdatedAt,
			ExpiresAt:   record.ExpiresAt,
		})
	}
}

// jobOwnerOnly は他のワークスペースのジョブ成果物を取得できないようにします。
func jobOwnerOnly(pdfService *pdf.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID, _, _ := session.FromContext(c)
		manifest, err := pdfService.LoadManifest(c.Param("id"))
		if err != nil || manifest.WorkspaceID != workspaceID {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"code":    "JOB_RESULT_NOT_FOUND",
				"message": "ジョブの成果物が見つかりませんでした。",
			})
			return
		}
		c.Next()
	}
}
