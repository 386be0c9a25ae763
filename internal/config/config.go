// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // slog のログレベル (debug, info, warn, error)

	// セッション設定
	SessionSecret      string // セッションCookie署名用の秘密鍵
	AccessPasswordHash string // ワークスペース開始時に要求するパスフレーズ（bcrypt、空なら不要）

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize          int64 // 単一ファイルの最大サイズ（バイト）
	MaxFiles             int   // 1ワークスペースに登録できる最大ファイル数
	MaxPages             int   // 結合結果の最大ページ数
	WorkspaceIdleMinutes int   // 操作のないワークスペースを破棄するまでの時間（分）
	JobExpireMinutes     int   // ジョブ成果物・プレビューキャッシュの有効期限（分）
	WorkDir              string

	// ジョブ/キュー設定
	QueueRedisURL       string // Asynq用Redis接続URL（空なら常に同期処理）
	CacheRedisURL       string // サムネイルキャッシュ用Redis接続URL（空ならキャッシュなし）
	AsyncThresholdBytes int64  // 同期処理から非同期へ切り替えるサイズ閾値
	AsyncThresholdPages int    // 同期処理から非同期へ切り替えるページ閾値
	JobResultBaseURL    string // 結果ファイル取得用のベースURL

	// プレビュー設定
	GhostscriptPath string  // Ghostscript実行ファイルのパス
	ThumbnailWidth  int     // サムネイルの横幅（px）
	PreviewScale    float64 // 拡大プレビューの倍率

	// ダウンロード設定
	DownloadPrefix string // ファイル名未指定時の接頭辞
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		Port:     getEnv("PORT", "8080"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SessionSecret:      getEnv("SESSION_SECRET", ""),
		AccessPasswordHash: getEnv("ACCESS_PASSWORD_HASH", ""),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize:          getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		MaxFiles:             getEnvAsInt("MAX_FILES", 50),
		MaxPages:             getEnvAsInt("MAX_PAGES", 2000),
		WorkspaceIdleMinutes: getEnvAsInt("WORKSPACE_IDLE_MINUTES", 30),
		JobExpireMinutes:     getEnvAsInt("JOB_EXPIRE_MINUTES", 10),
		WorkDir:              getEnv("WORK_DIR", filepath.Join(os.TempDir(), "pdf-binder")),

		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", ""),
		CacheRedisURL:       getEnv("CACHE_REDIS_URL", ""),
		AsyncThresholdBytes: getEnvAsInt64("ASYNC_THRESHOLD_BYTES", 50*1024*1024), // 50MB
		AsyncThresholdPages: getEnvAsInt("ASYNC_THRESHOLD_PAGES", 300),
		JobResultBaseURL:    getEnv("JOB_RESULT_BASE_URL", ""),

		GhostscriptPath: getEnv("GHOSTSCRIPT_PATH", "gs"),
		ThumbnailWidth:  getEnvAsInt("THUMBNAIL_WIDTH", 120),
		PreviewScale:    getEnvAsFloat("PREVIEW_SCALE", 1.5),

		DownloadPrefix: getEnv("DOWNLOAD_PREFIX", "merged_"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.MaxFiles <= 0 {
		return fmt.Errorf("MAX_FILES must be positive")
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.PreviewScale <= 0 {
		return fmt.Errorf("PREVIEW_SCALE must be positive")
	}

	// ローカル開発では署名鍵は任意（起動ごとに生成される鍵を使う）
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.GhostscriptPath == "" {
			return fmt.Errorf("GHOSTSCRIPT_PATH is required in release mode")
		}
	}

	return nil
}

// AsyncEnabled は非同期ジョブキューが設定されているかを返します。
func (c *Config) AsyncEnabled() bool {
	return strings.TrimSpace(c.QueueRedisURL) != ""
}

// SlogLevel は LogLevel を slog.Level に変換します。
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
