// Package session はブラウザごとのワークスペースセッションを管理します。
package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/pdf-binder/internal/config"
	"github.com/yourusername/pdf-binder/internal/roster"
)

const (
	CookieName           = "pb_session"
	sessionKeyWorkspace  = "workspace_id"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader = "X-CSRF-Token"

	contextWorkspaceKey = "session.workspace"
	contextRosterKey    = "session.roster"
)

var (
	maxSessionLifetime = 12 * time.Hour
	defaultIdleTimeout = 30 * time.Minute
	attemptWindow      = 15 * time.Minute
	lockDuration       = 10 * time.Minute
	maxAttempts        = 5
)

// MaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func MaxAgeSeconds() int {
	return int(maxSessionLifetime.Seconds())
}

type attemptState struct {
	count        int
	firstAttempt time.Time
	lockedUntil  time.Time
}

// Manager はワークスペースの開始・終了とリクエストごとの検証を行います。
type Manager struct {
	cfg      *config.Config
	registry *roster.Registry
	logger   *slog.Logger
	idle     time.Duration
	now      func() time.Time

	lock     sync.Mutex
	attempts map[string]*attemptState
}

// NewManager はセッションマネージャーを作成します。
func NewManager(cfg *config.Config, registry *roster.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	idle := defaultIdleTimeout
	if cfg.WorkspaceIdleMinutes > 0 {
		idle = time.Duration(cfg.WorkspaceIdleMinutes) * time.Minute
	}
	return &Manager{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		idle:     idle,
		now:      time.Now,
		attempts: make(map[string]*attemptState),
	}
}

type startRequest struct {
	Passphrase string `json:"passphrase"`
}

// Start は POST /api/session のハンドラーです。
// 既存のワークスペースがあれば破棄し、空のロースターで新しく開始します。
// 既存のワークスペースが結合中の場合は 409 を返します。
func (m *Manager) Start(c *gin.Context) {
	if m.cfg.AccessPasswordHash != "" {
		ip := c.ClientIP()
		if retryAfter := m.checkLock(ip); retryAfter > 0 {
			c.Header("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"code":    "TOO_MANY_ATTEMPTS",
				"message": "一定時間後に再度お試しください",
			})
			return
		}

		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Passphrase == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "passphrase を JSON で送ってください",
			})
			return
		}
		if !m.verifyPassphrase(req.Passphrase) {
			remaining := m.recordFailure(ip)
			m.logger.Warn("passphrase rejected", "ip", ip, "remaining", remaining)
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":              "INVALID_PASSPHRASE",
				"message":           "パスフレーズが正しくありません",
				"remainingAttempts": remaining,
			})
			return
		}
		m.resetAttempts(ip)
	}

	token, err := generateToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	if previous, ok := session.Get(sessionKeyWorkspace).(string); ok && previous != "" {
		if r, found := m.registry.Get(previous); found && r.Busy() {
			c.JSON(http.StatusConflict, gin.H{
				"code":    "MERGE_IN_PROGRESS",
				"message": "結合処理中は新しいワークスペースを開始できません",
			})
			return
		}
		m.registry.Drop(previous)
	}

	workspaceID, _ := m.registry.Create()
	now := m.now()
	session.Set(sessionKeyWorkspace, workspaceID)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		m.registry.Drop(workspaceID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	m.logger.Info("workspace started", "workspaceId", workspaceID)
	c.Header(csrfHeader, token)
	c.JSON(http.StatusCreated, gin.H{"workspaceId": workspaceID})
}

// End は DELETE /api/session のハンドラーです。ロースターを空にしてセッションを破棄します。
func (m *Manager) End(c *gin.Context) {
	session := sessions.Default(c)
	if workspaceID, ok := session.Get(sessionKeyWorkspace).(string); ok && workspaceID != "" {
		if r, found := m.registry.Get(workspaceID); found {
			if err := r.Clear(); errors.Is(err, roster.ErrBusy) {
				c.JSON(http.StatusConflict, gin.H{
					"code":    "MERGE_IN_PROGRESS",
					"message": "結合処理中はワークスペースを終了できません",
				})
				return
			}
		}
		m.registry.Drop(workspaceID)
		m.logger.Info("workspace ended", "workspaceId", workspaceID)
	}

	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// RequireWorkspace はセッションを検証し、ワークスペースのロースターをコンテキストへ設定するミドルウェアです。
func (m *Manager) RequireWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		workspaceID, ok := session.Get(sessionKeyWorkspace).(string)
		if !ok || workspaceID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "NO_WORKSPACE",
				"message": "ワークスペースを開始してください",
			})
			return
		}

		now := m.now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		lastActive := readUnix(session.Get(sessionKeyLastActive))

		if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
			m.expire(session, workspaceID)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_EXPIRED",
				"message": "セッションの有効期限が切れました",
			})
			return
		}

		if lastActive.IsZero() || now.Sub(lastActive) > m.idle {
			m.expire(session, workspaceID)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "SESSION_IDLE_TIMEOUT",
				"message": "しばらく操作がなかったためワークスペースを破棄しました",
			})
			return
		}

		r, found := m.registry.Get(workspaceID)
		if !found {
			session.Clear()
			_ = session.Save()
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "WORKSPACE_EXPIRED",
				"message": "ワークスペースが見つかりません。もう一度開始してください",
			})
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		_ = session.Save()
		c.Set(contextWorkspaceKey, workspaceID)
		c.Set(contextRosterKey, r)
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// FromContext は RequireWorkspace が設定したワークスペースIDとロースターを返します。
func FromContext(c *gin.Context) (string, *roster.Roster, bool) {
	r, ok := c.Get(contextRosterKey)
	if !ok {
		return "", nil, false
	}
	rs, ok := r.(*roster.Roster)
	if !ok || rs == nil {
		return "", nil, false
	}
	return c.GetString(contextWorkspaceKey), rs, true
}

// WithRoster はテストやバックグラウンド処理でコンテキストへロースターを設定します。
func WithRoster(c *gin.Context, workspaceID string, r *roster.Roster) {
	c.Set(contextWorkspaceKey, workspaceID)
	c.Set(contextRosterKey, r)
}

func (m *Manager) expire(session sessions.Session, workspaceID string) {
	// 結合中のロースターは残し、完了後に Sweep で回収する
	if r, ok := m.registry.Get(workspaceID); !ok || !r.Busy() {
		m.registry.Drop(workspaceID)
	}
	session.Clear()
	_ = session.Save()
}

func (m *Manager) verifyPassphrase(passphrase string) bool {
	return bcrypt.CompareHashAndPassword([]byte(m.cfg.AccessPasswordHash), []byte(passphrase)) == nil
}

func (m *Manager) checkLock(ip string) time.Duration {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, ok := m.attempts[ip]
	if !ok {
		return 0
	}
	now := m.now()
	if now.After(state.lockedUntil) {
		return 0
	}
	return state.lockedUntil.Sub(now)
}

func (m *Manager) recordFailure(ip string) int {
	m.lock.Lock()
	defer m.lock.Unlock()

	now := m.now()
	state, ok := m.attempts[ip]
	if !ok || now.Sub(state.firstAttempt) > attemptWindow {
		state = &attemptState{firstAttempt: now}
		m.attempts[ip] = state
	}

	state.count++
	if state.count >= maxAttempts {
		state.lockedUntil = now.Add(lockDuration)
		state.count = maxAttempts
	}
	return maxAttempts - state.count
}

func (m *Manager) resetAttempts(ip string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.attempts, ip)
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
