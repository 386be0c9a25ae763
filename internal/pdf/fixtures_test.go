package pdf

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/yourusername/pdf-binder/internal/config"
	"github.com/yourusername/pdf-binder/internal/storage"
)

// buildPDF は pages ページの最小構成PDFを生成します。
// 各ページの幅を width、/Rotate を rotate にしてページの出自を判別できるようにします。
func buildPDF(pages, width, rotate int) []byte {
	var buf bytes.Buffer
	var offsets []int
	writeObj := func(num int, body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 4+i)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages))

	content := "0 0 m 10 10 l S"
	writeObj(3, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))

	for i := 0; i < pages; i++ {
		page := fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d 792] /Contents 3 0 R /Resources << >>", width)
		if rotate != 0 {
			page += fmt.Sprintf(" /Rotate %d", rotate)
		}
		writeObj(4+i, page+" >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

type pageInfo struct {
	width  int
	rotate int
}

// inspectPages は各ページの幅と実効的な回転角度を返します。
func inspectPages(t *testing.T, data []byte) []pageInfo {
	t.Helper()
	ctx, err := pdfapi.ReadContext(bytes.NewReader(data), newConfiguration())
	if err != nil {
		t.Fatalf("failed to read pdf: %v", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		t.Fatalf("failed to count pages: %v", err)
	}

	pages := make([]pageInfo, 0, ctx.PageCount)
	for i := 1; i <= ctx.PageCount; i++ {
		_, _, inh, err := ctx.PageDict(i, false)
		if err != nil {
			t.Fatalf("failed to read page %d: %v", i, err)
		}
		info := pageInfo{rotate: inh.Rotate}
		if inh.MediaBox != nil {
			info.width = int(inh.MediaBox.Width())
		}
		pages = append(pages, info)
	}
	return pages
}

func newTestService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = t.TempDir()
	}
	if cfg.JobExpireMinutes == 0 {
		cfg.JobExpireMinutes = 10
	}
	store, err := storage.NewLocal(cfg.WorkDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	svc, err := NewService(cfg, store, slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}
