package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/yourusername/pdf-binder/internal/config"
)

const (
	baseDPI        = 72.0
	thumbnailScale = 1.5
	minScale       = 0.25
	maxScale       = 4.0
	placeholderMsg = "Error"
)

// PreviewCache は生成済みプレビュー画像のキャッシュです。
type PreviewCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
}

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Renderer はPDFの1ページ目をPNG画像として描画します。
// 描画に失敗した場合もエラーは返さず、プレースホルダー画像を返します。
type Renderer struct {
	gsPath string
	tmpDir string
	cache  PreviewCache
	logger *slog.Logger
	run    commandRunner
}

// NewRenderer は Ghostscript を使う Renderer を作成します。cache は nil でも構いません。
func NewRenderer(cfg *config.Config, cache PreviewCache, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		gsPath: cfg.GhostscriptPath,
		tmpDir: cfg.WorkDir,
		cache:  cache,
		logger: logger,
		run:    execRunner,
	}
}

// Thumbnail は横幅 width のサムネイルを返します。
func (r *Renderer) Thumbnail(ctx context.Context, fileID string, content []byte, width int) []byte {
	if width <= 0 {
		width = 120
	}
	key := fmt.Sprintf("thumb:%s:%d", fileID, width)
	if data, ok := r.cached(ctx, key); ok {
		return data
	}

	img, err := r.renderFirstPage(ctx, content, baseDPI*thumbnailScale)
	if err != nil {
		r.logger.Warn("サムネイルの生成に失敗しました", "fileId", fileID, "error", err)
		return placeholderPNG(width, a4Height(width))
	}
	img = imaging.Resize(img, width, 0, imaging.Lanczos)
	return r.store(ctx, key, img)
}

// Preview は拡大表示用の画像を scale 倍（72dpi基準）で返します。
func (r *Renderer) Preview(ctx context.Context, fileID string, content []byte, scale float64) []byte {
	scale = clampScale(scale)
	key := fmt.Sprintf("preview:%s:%.2f", fileID, scale)
	if data, ok := r.cached(ctx, key); ok {
		return data
	}

	img, err := r.renderFirstPage(ctx, content, baseDPI*scale)
	if err != nil {
		r.logger.Warn("拡大プレビューの生成に失敗しました", "fileId", fileID, "error", err)
		width := int(595 * scale)
		return placeholderPNG(width, a4Height(width))
	}
	return r.store(ctx, key, img)
}

func (r *Renderer) renderFirstPage(ctx context.Context, content []byte, dpi float64) (image.Image, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty content")
	}
	dir, err := os.MkdirTemp(r.tmpDir, "render-*")
	if err != nil {
		return nil, fmt.Errorf("一時ディレクトリの作成に失敗しました: %w", err)
	}
	defer os.RemoveAll(dir)

	inputPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(inputPath, content, 0o640); err != nil {
		return nil, err
	}
	outputPath := filepath.Join(dir, "page.png")

	output, err := r.run(ctx, r.gsPath, ghostscriptRenderArgs(outputPath, inputPath, dpi)...)
	if err != nil {
		return nil, fmt.Errorf("ghostscript failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	img, err := imaging.Open(outputPath)
	if err != nil {
		return nil, fmt.Errorf("描画結果の読み込みに失敗しました: %w", err)
	}
	return img, nil
}

func (r *Renderer) cached(ctx context.Context, key string) ([]byte, bool) {
	if r.cache == nil {
		return nil, false
	}
	return r.cache.Get(ctx, key)
}

func (r *Renderer) store(ctx context.Context, key string, img image.Image) []byte {
	data, err := encodePNG(img)
	if err != nil {
		r.logger.Warn("PNGエンコードに失敗しました", "key", key, "error", err)
		return placeholderPNG(img.Bounds().Dx(), img.Bounds().Dy())
	}
	if r.cache != nil {
		r.cache.Set(ctx, key, data)
	}
	return data
}

func ghostscriptRenderArgs(outputPath, inputPath string, dpi float64) []string {
	return []string{
		"-sDEVICE=png16m",
		"-dSAFER",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-dFirstPage=1",
		"-dLastPage=1",
		"-dTextAlphaBits=4",
		"-dGraphicsAlphaBits=4",
		fmt.Sprintf("-r%d", int(dpi)),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// placeholderPNG は灰色の背景に "Error" と描いた画像を返します。
func placeholderPNG(width, height int) []byte {
	if width <= 0 || height <= 0 {
		width, height = 120, a4Height(120)
	}
	img := imaging.New(width, height, color.NRGBA{R: 0xcc, G: 0xcc, B: 0xcc, A: 0xff})

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
	}
	advance := d.MeasureString(placeholderMsg)
	d.Dot = fixed.Point26_6{
		X: (fixed.I(width) - advance) / 2,
		Y: fixed.I(height / 2),
	}
	d.DrawString(placeholderMsg)

	data, err := encodePNG(img)
	if err != nil {
		return nil
	}
	return data
}

// a4Height は A4 縦の比率で width に対応する高さを返します。
func a4Height(width int) int {
	return int(float64(width) * 842 / 595)
}

func clampScale(scale float64) float64 {
	switch {
	case scale <= 0:
		return thumbnailScale
	case scale < minScale:
		return minScale
	case scale > maxScale:
		return maxScale
	default:
		return scale
	}
}
