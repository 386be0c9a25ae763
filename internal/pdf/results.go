package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OpenResultFile はジョブIDに対応する成果物ファイルを開き、Result 情報とファイルハンドルを返します。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required")
	}

	ws, err := s.workspaceFor(jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", os.ErrNotExist, err)
	}
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return nil, nil, err
	}
	if manifest.Operation != OperationMerge {
		return nil, nil, fmt.Errorf("unsupported operation for result download: %s", manifest.Operation)
	}

	outputPath := filepath.Join(ws.outDir, mergedFilename)
	file, err := os.Open(outputPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	filename := manifest.Filename
	if filename == "" {
		filename = mergedFilename
	}

	result := &Result{
		JobID:          jobID,
		Operation:      manifest.Operation,
		OutputPath:     outputPath,
		OutputFilename: filename,
		OutputSize:     info.Size(),
		ResultKind:     ResultKindPDF,
		jobDir:         ws.dir,
	}

	return result, file, nil
}
