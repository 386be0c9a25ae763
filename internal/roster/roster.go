package roster

import (
	"errors"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const pdfMIME = "application/pdf"

var (
	// ErrBusy は結合処理中にロースターを変更しようとした場合に返されます。
	ErrBusy = errors.New("roster: merge in progress")
	// ErrTooFewFiles は結合に必要なファイル数に満たない場合に返されます。
	ErrTooFewFiles = errors.New("roster: at least two files are required to merge")
)

// SkipReason は取り込みを見送った理由です。
type SkipReason string

const (
	SkipNotPDF     SkipReason = "not_pdf"
	SkipDuplicate  SkipReason = "duplicate_name"
	SkipTooLarge   SkipReason = "too_large"
	SkipRosterFull SkipReason = "roster_full"
	SkipUnreadable SkipReason = "unreadable"
)

// Skipped は取り込まれなかったファイルの診断情報です。
type Skipped struct {
	Name   string     `json:"name"`
	Reason SkipReason `json:"reason"`
}

// Upload は取り込み対象のファイルです。
type Upload struct {
	Name    string
	Content []byte
}

// PageCounter はPDFのページ数を返します。数えられない場合は0を返します。
type PageCounter func(content []byte) int

// Options はロースターの制限値などを指定します。
type Options struct {
	MaxFiles    int
	MaxFileSize int64
	PageCounter PageCounter
	Now         func() time.Time
	// MaxMergeDuration を超えて結合中のままのロースターは ReleaseStaleMerge で解放されます。0以下なら解放しません。
	MaxMergeDuration time.Duration
}

// Roster は FileRecord の順序付きリストです。全操作は排他的に実行されます。
type Roster struct {
	mu        sync.Mutex
	opts      Options
	records   []*FileRecord
	busy      bool
	busySince time.Time
}

// New は空のロースターを作成します。
func New(opts Options) *Roster {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Roster{opts: opts}
}

// IsPDF は内容のシグネチャがPDFであるかを判定します。
func IsPDF(content []byte) bool {
	if len(content) == 0 {
		return false
	}
	return mimetype.Detect(content).Is(pdfMIME)
}

// Ingest はファイルを末尾に追加します。
// PDFでないもの・同名ファイルが既にあるもの・上限を超えるものは追加せず理由を返します。
// 結合中でも取り込みは受け付けます（結合はスナップショットに対して行われるため）。
func (r *Roster) Ingest(u Upload) (FileRecord, SkipReason) {
	if r.opts.MaxFileSize > 0 && int64(len(u.Content)) > r.opts.MaxFileSize {
		return FileRecord{}, SkipTooLarge
	}
	if !IsPDF(u.Content) {
		return FileRecord{}, SkipNotPDF
	}

	r.mu.Lock()
	if r.indexOfNameLocked(u.Name) >= 0 {
		r.mu.Unlock()
		return FileRecord{}, SkipDuplicate
	}
	r.mu.Unlock()

	// ページ数の取得は時間がかかるためロック外で行う
	pages := 0
	if r.opts.PageCounter != nil {
		pages = r.opts.PageCounter(u.Content)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// ロック解放中に同名ファイルが追加されている可能性があるため再確認する
	if r.indexOfNameLocked(u.Name) >= 0 {
		return FileRecord{}, SkipDuplicate
	}
	if r.opts.MaxFiles > 0 && len(r.records) >= r.opts.MaxFiles {
		return FileRecord{}, SkipRosterFull
	}

	rec := &FileRecord{
		ID:       uuid.NewString(),
		Name:     u.Name,
		Size:     int64(len(u.Content)),
		Pages:    pages,
		Rotation: Rotate0,
		AddedAt:  r.opts.Now().UTC(),
		content:  append([]byte(nil), u.Content...),
	}
	r.records = append(r.records, rec)
	return *rec, ""
}

// RemoveAt は指定位置のファイルを削除します。範囲外なら何もしません。
func (r *Roster) RemoveAt(position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrBusy
	}
	if !r.validLocked(position) {
		return nil
	}
	r.records = append(r.records[:position], r.records[position+1:]...)
	return nil
}

// Swap は隣接する2つのファイルを入れ替えます。
// どちらかが範囲外、または隣接していない場合は何もしません。
func (r *Roster) Swap(a, b int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrBusy
	}
	if !r.validLocked(a) || !r.validLocked(b) {
		return nil
	}
	if a-b != 1 && b-a != 1 {
		return nil
	}
	r.records[a], r.records[b] = r.records[b], r.records[a]
	return nil
}

// MoveUp は指定位置のファイルを1つ前へ移動します。
func (r *Roster) MoveUp(position int) error {
	return r.Swap(position, position-1)
}

// MoveDown は指定位置のファイルを1つ後ろへ移動します。
func (r *Roster) MoveDown(position int) error {
	return r.Swap(position, position+1)
}

// ReorderTo は ID の並びでロースターを並べ替えます。
// 見つからない ID は無視し、重複した ID は最初の出現のみ採用します。
// ids に含まれないファイルは削除せず、現在の相対順のまま末尾に残します。
func (r *Roster) ReorderTo(ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrBusy
	}

	byID := make(map[string]*FileRecord, len(r.records))
	for _, rec := range r.records {
		byID[rec.ID] = rec
	}

	next := make([]*FileRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok {
			continue
		}
		next = append(next, rec)
		delete(byID, id)
	}
	for _, rec := range r.records {
		if _, unlisted := byID[rec.ID]; unlisted {
			next = append(next, rec)
		}
	}
	r.records = next
	return nil
}

// MoveBefore は id のファイルを beforeID の直前へ移動します。
// beforeID が空または存在しない場合は末尾へ移動します。id が存在しなければ何もしません。
func (r *Roster) MoveBefore(id, beforeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrBusy
	}
	from := r.indexOfIDLocked(id)
	if from < 0 || id == beforeID {
		return nil
	}
	r.records = relocate(r.records, from, r.indexOfIDLocked(beforeID))
	return nil
}

// Rotate は指定位置のファイルの回転角度を90度進めます。範囲外なら何もしません。
func (r *Roster) Rotate(position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrBusy
	}
	if !r.validLocked(position) {
		return nil
	}
	rec := r.records[position]
	rec.Rotation = rec.Rotation.Next()
	return nil
}

// Clear はすべてのファイルを破棄します。
func (r *Roster) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return ErrBusy
	}
	r.records = nil
	return nil
}

// Len は登録されているファイル数を返します。
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// IDs は現在の並び順の ID を返します。
func (r *Roster) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.records))
	for i, rec := range r.records {
		ids[i] = rec.ID
	}
	return ids
}

// Snapshot は現在の並び順のコピーを返します。
func (r *Roster) Snapshot() []FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Find は ID に対応するファイルを返します。
func (r *Roster) Find(id string) (FileRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.indexOfIDLocked(id)
	if idx < 0 {
		return FileRecord{}, false
	}
	return *r.records[idx], true
}

// Busy は結合処理中かどうかを返します。
func (r *Roster) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// BeginMerge は結合中フラグを立て、結合対象のスナップショットを返します。
// 結合が終わったら成功・失敗にかかわらず EndMerge を呼び出してください。
func (r *Roster) BeginMerge() ([]FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.busy {
		return nil, ErrBusy
	}
	if len(r.records) < 2 {
		return nil, ErrTooFewFiles
	}
	r.busy = true
	r.busySince = r.opts.Now()
	return r.snapshotLocked(), nil
}

// EndMerge は結合中フラグを下ろします。
func (r *Roster) EndMerge() {
	r.mu.Lock()
	r.busy = false
	r.mu.Unlock()
}

// ReleaseStaleMerge は MaxMergeDuration を過ぎても結合中のままなら結合中フラグを下ろし、true を返します。
// ワーカーが完了を通知できずに終了した場合でもロースターを操作可能に戻すためのものです。
func (r *Roster) ReleaseStaleMerge() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.busy || r.opts.MaxMergeDuration <= 0 {
		return false
	}
	if r.opts.Now().Sub(r.busySince) < r.opts.MaxMergeDuration {
		return false
	}
	r.busy = false
	return true
}

func (r *Roster) snapshotLocked() []FileRecord {
	out := make([]FileRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = *rec
	}
	return out
}

func (r *Roster) validLocked(position int) bool {
	return position >= 0 && position < len(r.records)
}

func (r *Roster) indexOfIDLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, rec := range r.records {
		if rec.ID == id {
			return i
		}
	}
	return -1
}

func (r *Roster) indexOfNameLocked(name string) int {
	for i, rec := range r.records {
		if rec.Name == name {
			return i
		}
	}
	return -1
}

// relocate は items[from] を取り出し、元の並びで before の位置にあった要素の直前へ挿入します。
// before が負の場合は末尾へ移動します。
func relocate[T any](items []T, from, before int) []T {
	out := make([]T, 0, len(items))
	if before == from {
		return append(out, items...)
	}
	moved := items[from]
	for i, it := range items {
		if i == from {
			continue
		}
		if i == before {
			out = append(out, moved)
		}
		out = append(out, it)
	}
	if before < 0 || before >= len(items) {
		out = append(out, moved)
	}
	return out
}
