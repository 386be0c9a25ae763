// Package storage は結合ジョブの一時ファイルを置くローカル作業領域を提供します。
//
// 保存先: <root>/<jobID>/in|out/
// 作業領域はジョブ完了後、または有効期限が過ぎた時点で削除されます。
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const dirPerm = 0o750

// ErrInvalidJobID はジョブIDの形式が不正な場合に返されます。
var ErrInvalidJobID = errors.New("storage: invalid job id")

// Workspace は1ジョブ分の作業ディレクトリです。
type Workspace struct {
	JobID  string
	Dir    string
	InDir  string
	OutDir string
}

// Local はローカルファイルシステム上の作業領域です。
type Local struct {
	root string
}

// NewLocal はルートディレクトリを作成して Local を返します。
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	return &Local{root: root}, nil
}

// Root はルートディレクトリを返します。
func (l *Local) Root() string {
	return l.root
}

// Create は新しいジョブIDで作業ディレクトリを作成します。
func (l *Local) Create() (Workspace, error) {
	ws := l.layout(uuid.NewString())
	for _, dir := range []string{ws.InDir, ws.OutDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			_ = RemoveDir(ws.Dir)
			return Workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

// Lookup は既存ジョブの作業ディレクトリを返します。
// ジョブIDは UUID 形式のみ受け付けます（パス操作を防ぐため）。
func (l *Local) Lookup(jobID string) (Workspace, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return Workspace{}, ErrInvalidJobID
	}
	return l.layout(jobID), nil
}

// Remove はジョブの作業ディレクトリを削除します。
func (l *Local) Remove(jobID string) error {
	ws, err := l.Lookup(jobID)
	if err != nil {
		return err
	}
	return RemoveDir(ws.Dir)
}

// ExpireAfter は d 経過後に作業ディレクトリを削除します。
func (l *Local) ExpireAfter(jobID string, d time.Duration) *time.Timer {
	return time.AfterFunc(d, func() {
		_ = l.Remove(jobID)
	})
}

func (l *Local) layout(jobID string) Workspace {
	dir := filepath.Join(l.root, jobID)
	return Workspace{
		JobID:  jobID,
		Dir:    dir,
		InDir:  filepath.Join(dir, "in"),
		OutDir: filepath.Join(dir, "out"),
	}
}

// RemoveDir はディレクトリを再帰的に削除します。空文字の場合は何もしません。
func RemoveDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
