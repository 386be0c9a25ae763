package pdf

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/yourusername/pdf-binder/internal/config"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (m *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *memoryCache) Set(_ context.Context, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
}

// fakeGhostscript は -sOutputFile= に指定されたパスへ単色のPNGを書き出します。
func fakeGhostscript(width, height int, calls *int) commandRunner {
	return func(_ context.Context, _ string, args ...string) ([]byte, error) {
		*calls++
		var out string
		for _, a := range args {
			if strings.HasPrefix(a, "-sOutputFile=") {
				out = strings.TrimPrefix(a, "-sOutputFile=")
			}
		}
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.Set(x, y, color.White)
			}
		}
		f, err := os.Create(out)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return nil, png.Encode(f, img)
	}
}

func failingGhostscript(calls *int) commandRunner {
	return func(context.Context, string, ...string) ([]byte, error) {
		*calls++
		return []byte("Error: /syntaxerror"), errors.New("exit status 1")
	}
}

func newTestRenderer(t *testing.T, cache PreviewCache, run commandRunner) *Renderer {
	t.Helper()
	r := NewRenderer(&config.Config{GhostscriptPath: "gs", WorkDir: t.TempDir()}, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.run = run
	return r
}

func decodeSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("result is not a png: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestThumbnailResizesToWidth(t *testing.T) {
	calls := 0
	cache := newMemoryCache()
	r := newTestRenderer(t, cache, fakeGhostscript(918, 1188, &calls))

	data := r.Thumbnail(context.Background(), "file-1", buildPDF(1, 612, 0), 120)
	w, h := decodeSize(t, data)
	if w != 120 || h != 155 {
		t.Fatalf("thumbnail size = %dx%d, want 120x155", w, h)
	}

	again := r.Thumbnail(context.Background(), "file-1", buildPDF(1, 612, 0), 120)
	if !bytes.Equal(data, again) {
		t.Fatal("expected cached thumbnail")
	}
	if calls != 1 {
		t.Fatalf("ghostscript calls = %d, want 1", calls)
	}
}

func TestThumbnailPlaceholderOnFailure(t *testing.T) {
	calls := 0
	cache := newMemoryCache()
	r := newTestRenderer(t, cache, failingGhostscript(&calls))

	data := r.Thumbnail(context.Background(), "file-1", buildPDF(1, 612, 0), 120)
	w, h := decodeSize(t, data)
	if w != 120 || h != a4Height(120) {
		t.Fatalf("placeholder size = %dx%d", w, h)
	}
	if len(cache.data) != 0 {
		t.Fatal("placeholder must not be cached")
	}

	r.Thumbnail(context.Background(), "file-1", buildPDF(1, 612, 0), 120)
	if calls != 2 {
		t.Fatalf("ghostscript calls = %d, want 2", calls)
	}
}

func TestPreviewUsesScaledResolution(t *testing.T) {
	var gotArgs []string
	r := newTestRenderer(t, nil, func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		calls := 0
		return fakeGhostscript(100, 100, &calls)(ctx, name, args...)
	})

	data := r.Preview(context.Background(), "file-1", buildPDF(1, 612, 0), 2)
	if w, _ := decodeSize(t, data); w != 100 {
		t.Fatalf("preview width = %d, want 100", w)
	}

	found := false
	for _, a := range gotArgs {
		if a == "-r144" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected -r144 in args: %v", gotArgs)
	}
}

func TestPreviewEmptyContent(t *testing.T) {
	calls := 0
	r := newTestRenderer(t, nil, fakeGhostscript(10, 10, &calls))
	data := r.Preview(context.Background(), "file-1", nil, 1)
	if w, _ := decodeSize(t, data); w != 595 {
		t.Fatalf("placeholder width = %d, want 595", w)
	}
	if calls != 0 {
		t.Fatalf("ghostscript should not run for empty content")
	}
}

func TestClampScale(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, thumbnailScale},
		{0.1, minScale},
		{1.5, 1.5},
		{10, maxScale},
	}
	for _, tt := range tests {
		if got := clampScale(tt.in); got != tt.want {
			t.Errorf("clampScale(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
