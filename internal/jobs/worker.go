package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

func (m *Manager) handleMergeTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	return m.process(ctx, payload)
}

// process は1件の結合ジョブを実行し、結果をストアへ記録します。
// 成否にかかわらず最後に settle を呼び、ワークスペースの結合中フラグを解除します。
func (m *Manager) process(ctx context.Context, payload TaskPayload) error {
	log := m.logger.With("jobId", payload.JobID, "workspaceId", payload.WorkspaceID)
	defer func() {
		if m.settle != nil {
			m.settle(payload.WorkspaceID)
		}
	}()

	if err := m.store.MarkRunning(ctx, payload.JobID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		// キュー投入時のレコードが期限切れになっている場合は作り直す
		if err := m.store.Upsert(ctx, &Record{
			JobID:       payload.JobID,
			Operation:   string(payload.Operation),
			WorkspaceID: payload.WorkspaceID,
			Status:      StatusRunning,
			Progress:    ProgressInfo{Stage: "load"},
		}); err != nil {
			return err
		}
	}

	result, err := m.runner.RunJob(ctx, payload.JobID, func(stage string, percent int) {
		m.UpdateProgress(ctx, payload.JobID, percent, stage)
	})
	if err != nil {
		log.Warn("merge job failed", "error", err)
		return m.failJobWithError(ctx, payload.JobID, err)
	}

	log.Info("merge job completed", "bytes", result.OutputSize, "filename", result.OutputFilename)
	return m.finishJob(ctx, payload.JobID, result)
}

// asynqLogger は asynq のログを slog へ流します。
type asynqLogger struct {
	l *slog.Logger
}

func newAsynqLogger(l *slog.Logger) *asynqLogger {
	return &asynqLogger{l: l.With("component", "asynq")}
}

func (a *asynqLogger) Debug(args ...any) { a.l.Debug(fmt.Sprint(args...)) }
func (a *asynqLogger) Info(args ...any)  { a.l.Info(fmt.Sprint(args...)) }
func (a *asynqLogger) Warn(args ...any)  { a.l.Warn(fmt.Sprint(args...)) }
func (a *asynqLogger) Error(args ...any) { a.l.Error(fmt.Sprint(args...)) }
func (a *asynqLogger) Fatal(args ...any) { a.l.Error(fmt.Sprint(args...)) }
