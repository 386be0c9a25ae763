package roster

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type workspace struct {
	roster   *Roster
	lastSeen time.Time
}

// Registry はブラウザセッション（ワークスペース）ごとのロースターを保持します。
type Registry struct {
	mu         sync.Mutex
	opts       Options
	idle       time.Duration
	workspaces map[string]*workspace
	now        func() time.Time
}

// NewRegistry は Registry を作成します。idle が0以下の場合は期限切れによる破棄を行いません。
func NewRegistry(opts Options, idle time.Duration) *Registry {
	return &Registry{
		opts:       opts,
		idle:       idle,
		workspaces: make(map[string]*workspace),
		now:        time.Now,
	}
}

// Create は新しいワークスペースを作成し、その ID とロースターを返します。
func (g *Registry) Create() (string, *Roster) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := uuid.NewString()
	r := New(g.opts)
	g.workspaces[id] = &workspace{roster: r, lastSeen: g.now()}
	return id, r
}

// Get はワークスペースのロースターを返し、最終アクセス時刻を更新します。
func (g *Registry) Get(id string) (*Roster, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ws, ok := g.workspaces[id]
	if !ok {
		return nil, false
	}
	ws.lastSeen = g.now()
	return ws.roster, true
}

// Drop はワークスペースを破棄します。
func (g *Registry) Drop(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.workspaces, id)
}

// Len は保持しているワークスペース数を返します。
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.workspaces)
}

// Sweep は一定時間操作のないワークスペースを破棄し、破棄した数を返します。
// 結合中のワークスペースは対象外ですが、結合が MaxMergeDuration を超えたものは先に解放し、その数を released に返します。
func (g *Registry) Sweep() (removed, released int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.idle)
	for id, ws := range g.workspaces {
		if ws.roster.ReleaseStaleMerge() {
			released++
		}
		if g.idle <= 0 || ws.lastSeen.After(cutoff) || ws.roster.Busy() {
			continue
		}
		delete(g.workspaces, id)
		removed++
	}
	return removed, released
}

// Run は ctx が終了するまで interval ごとに Sweep を実行します。
func (g *Registry) Run(ctx context.Context, interval time.Duration, onSweep func(removed, released int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, released := g.Sweep()
			if (removed > 0 || released > 0) && onSweep != nil {
				onSweep(removed, released)
			}
		}
	}
}
