package pdf

import (
	"context"
	"fmt"
)

// RunJob はジョブIDに対応するPDF処理を実行します。失敗した場合は作業領域を削除します。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := s.workspaceFor(jobID)
	if err != nil {
		return nil, err
	}
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}

	stored := storedFilesFromManifest(ws, manifest)
	if len(stored) == 0 {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("manifest has no input files")
	}

	var (
		result *Result
		runErr error
	)

	switch manifest.Operation {
	case OperationMerge:
		state := &mergeState{ws: ws, manifest: manifest, storedFiles: stored}
		result, runErr = s.executeMerge(ctx, state, reporter)
	default:
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("unsupported operation: %s", manifest.Operation)
	}

	if runErr != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			runErr = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", runErr, cleanupErr)
		}
		return nil, runErr
	}

	return result, nil
}

// LoadManifest はジョブのマニフェストを読み込みます。
func (s *Service) LoadManifest(jobID string) (*JobManifest, error) {
	ws, err := s.workspaceFor(jobID)
	if err != nil {
		return nil, err
	}
	return loadManifest(ws.dir)
}

// DiscardJob は準備済みジョブの作業領域を削除します。
func (s *Service) DiscardJob(jobID string) error {
	ws, err := s.workspaceFor(jobID)
	if err != nil {
		return err
	}
	return removeDir(ws.dir)
}
