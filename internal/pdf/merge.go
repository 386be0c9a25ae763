package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/pdf-binder/internal/roster"
)

const mergedFilename = "merged.pdf"

// MergeInput は結合対象の1ファイルです。Rotation は既存のページ回転に加算されます。
type MergeInput struct {
	Name     string
	Content  []byte
	Rotation int
	Pages    int
}

// MergeInputsFromRecords はロースターの並び順のまま結合入力へ変換します。
func MergeInputsFromRecords(records []roster.FileRecord) []MergeInput {
	inputs := make([]MergeInput, len(records))
	for i, rec := range records {
		inputs[i] = MergeInput{
			Name:     rec.Name,
			Content:  rec.Content(),
			Rotation: int(rec.Rotation),
			Pages:    rec.Pages,
		}
	}
	return inputs
}

type mergeState struct {
	ws          workspace
	manifest    *JobManifest
	storedFiles []storedFile
}

// PrepareMergeJob は入力を作業領域へ保存し、ジョブマニフェストを作成します。
// 実行は RunJob で行います（同期・非同期のどちらでも同じ手順）。
func (s *Service) PrepareMergeJob(ctx context.Context, workspaceID string, inputs []MergeInput, filename string) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(inputs) < 2 {
		return nil, newError("NOT_ENOUGH_FILES", "結合するにはPDFファイルを2つ以上選択してください。", nil)
	}
	known := 0
	for _, in := range inputs {
		known += in.Pages
	}
	if s.cfg.MaxPages > 0 && known > s.cfg.MaxPages {
		return nil, newError("LIMIT_EXCEEDED", fmt.Sprintf("結合後のページ数が上限（%d頁）を超えています。", s.cfg.MaxPages), nil)
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}

	stored := make([]storedFile, 0, len(inputs))
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			_ = removeDir(ws.dir)
			return nil, err
		}
		path := filepath.Join(ws.inDir, fmt.Sprintf("%03d.pdf", i+1))
		if err := os.WriteFile(path, in.Content, 0o640); err != nil {
			_ = removeDir(ws.dir)
			return nil, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
		}
		stored = append(stored, storedFile{
			path:         path,
			originalName: in.Name,
			size:         int64(len(in.Content)),
			pages:        in.Pages,
			rotation:     in.Rotation,
		})
	}

	manifest := &JobManifest{
		JobID:       ws.jobID,
		Operation:   OperationMerge,
		WorkspaceID: workspaceID,
		Filename:    filename,
		Files:       toJobFiles(stored),
		CreatedAt:   s.now().UTC(),
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}
	return manifest, nil
}

// executeMerge は入力を1ファイルずつ順番に読み込み、回転を適用してから結合します。
// どれか1つでも失敗した場合は全体を失敗とします。
func (s *Service) executeMerge(ctx context.Context, state *mergeState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	total := len(state.storedFiles)

	reportProgress(progress, stageLoad, 0)

	readers := make([]io.ReadSeeker, 0, total)
	sources := make([]SourceFileMeta, 0, total)
	totalPages := 0

	for i, sf := range state.storedFiles {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		data, err := os.ReadFile(sf.path)
		if err != nil {
			return nil, fmt.Errorf("入力ファイルの読み込みに失敗しました: %w", err)
		}

		if sf.rotation%360 != 0 {
			data, err = rotatePages(data, sf.rotation)
			if err != nil {
				return nil, unsupported(sf.originalName, err)
			}
		}

		pages, err := pdfapi.PageCount(bytes.NewReader(data), newConfiguration())
		if err != nil {
			return nil, unsupported(sf.originalName, err)
		}
		totalPages += pages

		readers = append(readers, bytes.NewReader(data))
		sources = append(sources, SourceFileMeta{
			Name:     sf.originalName,
			Size:     sf.size,
			Pages:    pages,
			Rotation: sf.rotation,
		})
		reportProgress(progress, stageProcess, processPercent(i+1, total))
	}

	if s.cfg.MaxPages > 0 && totalPages > s.cfg.MaxPages {
		return nil, newError("LIMIT_EXCEEDED", fmt.Sprintf("結合後のページ数が上限（%d頁）を超えています。", s.cfg.MaxPages), nil)
	}

	outputPath := filepath.Join(ws.outDir, mergedFilename)
	if err := writeMerged(outputPath, readers); err != nil {
		return nil, newError("UNSUPPORTED_PDF", "PDFの結合に失敗しました。PDFファイルが破損しているか、パスワードで保護されている可能性があります。", err)
	}
	reportProgress(progress, stageWrite, 90)

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}

	filename := state.manifest.Filename
	if filename == "" {
		filename = mergedFilename
	}

	meta := &MergeMeta{
		TotalPages: totalPages,
		Filename:   filename,
		Sources:    sources,
	}
	metaPayload := struct {
		Type      OperationType `json:"type"`
		CreatedAt string        `json:"createdAt"`
		*MergeMeta
	}{
		Type:      OperationMerge,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
		MergeMeta: meta,
	}
	if err := writeJSON(filepath.Join(ws.dir, "meta.json"), metaPayload); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.store.ExpireAfter(ws.jobID, s.expireAfter())

	reportProgress(progress, stageCompleted, 100)

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationMerge,
		OutputPath:     outputPath,
		OutputFilename: filename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta:           meta,
		jobDir:         ws.dir,
	}, nil
}

// rotatePages は全ページの回転角度に rotation を加算した新しいPDFを返します。
// pdfcpu は既存（継承を含む）の /Rotate に加算し 360 で正規化します。
func rotatePages(data []byte, rotation int) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdfapi.Rotate(bytes.NewReader(data), &buf, rotation, nil, newConfiguration()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeMerged(outputPath string, readers []io.ReadSeeker) error {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if err := pdfapi.MergeRaw(readers, out, false, newConfiguration()); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func unsupported(name string, err error) *Error {
	return newError("UNSUPPORTED_PDF", fmt.Sprintf("%s を読み込めませんでした。PDFファイルが破損しているか、パスワードで保護されている可能性があります。", name), err)
}
