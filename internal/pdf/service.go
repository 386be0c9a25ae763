// Package pdf はPDFの結合・ページ数取得・プレビュー生成を提供します。
package pdf

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/yourusername/pdf-binder/internal/config"
	"github.com/yourusername/pdf-binder/internal/storage"
)

const defaultCleanupMin = 10

// Error はクライアントへ返すエラーコードとメッセージを持つエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Service はPDF処理の入口です。
type Service struct {
	cfg    *config.Config
	store  *storage.Local
	logger *slog.Logger
	now    func() time.Time
}

// NewService は Service を作成します。
func NewService(cfg *config.Config, store *storage.Local, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	// pdfcpu がユーザー設定ディレクトリへ書き込まないようにする
	pdfapi.DisableConfigDir()
	return &Service{
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}, nil
}

func newConfiguration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (s *Service) expireAfter() time.Duration {
	minutes := s.cfg.JobExpireMinutes
	if minutes <= 0 {
		minutes = defaultCleanupMin
	}
	return time.Duration(minutes) * time.Minute
}

func removeDir(dir string) error {
	return storage.RemoveDir(dir)
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
