package roster

// ItemView はリスト1行分の描画内容です。
type ItemView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Size         int64    `json:"size"`
	SizeLabel    string   `json:"sizeLabel"`
	Pages        int      `json:"pages"`
	Rotation     Rotation `json:"rotation"`
	Position     int      `json:"position"`
	CanMoveUp    bool     `json:"canMoveUp"`
	CanMoveDown  bool     `json:"canMoveDown"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	PreviewURL   string   `json:"previewUrl,omitempty"`
}

// View はロースター全体の描画内容です。変更のたびに現在の並びから作り直します。
// Busy の間はクライアント側で変更系の操作をすべて無効化します。
type View struct {
	Items        []ItemView `json:"items"`
	Count        int        `json:"count"`
	TotalSize    int64      `json:"totalSize"`
	TotalPages   int        `json:"totalPages"`
	Busy         bool       `json:"busy"`
	MergeEnabled bool       `json:"mergeEnabled"`
	ClearEnabled bool       `json:"clearEnabled"`
}

// View は現在の状態から描画内容を組み立てます。
func (r *Roster) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	last := len(r.records) - 1
	v := View{
		Items:        make([]ItemView, len(r.records)),
		Count:        len(r.records),
		Busy:         r.busy,
		MergeEnabled: !r.busy && len(r.records) >= 2,
		ClearEnabled: !r.busy && len(r.records) > 0,
	}
	for i, rec := range r.records {
		v.Items[i] = ItemView{
			ID:          rec.ID,
			Name:        rec.Name,
			Size:        rec.Size,
			SizeLabel:   rec.SizeLabel(),
			Pages:       rec.Pages,
			Rotation:    rec.Rotation,
			Position:    i,
			CanMoveUp:   i > 0,
			CanMoveDown: i < last,
		}
		v.TotalSize += rec.Size
		v.TotalPages += rec.Pages
	}
	return v
}
