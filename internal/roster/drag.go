package roster

import "math"

// Box は描画されたリスト項目の縦方向の位置です（上から下へ増える座標系）。
type Box struct {
	ID     string  `json:"id"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
}

// DropTarget はドラッグ中のポインタ位置から、ドラッグ要素を挿入すべき直後の項目 ID を返します。
//
// ドラッグ中の項目を除き、中心がポインタより下にある項目のうち最もポインタに近いものを選びます。
// 該当がなければ空文字を返し、これは末尾への移動を意味します。
func DropTarget(pointerY float64, boxes []Box, draggedID string) string {
	closest := math.Inf(-1)
	target := ""
	for _, b := range boxes {
		if b.ID == draggedID {
			continue
		}
		offset := pointerY - b.Top - b.Height/2
		if offset < 0 && offset > closest {
			closest = offset
			target = b.ID
		}
	}
	return target
}

// DragGesture はドラッグ操作中の見た目上の並びを保持します。
// ポインタが動くたびに Over で並びを更新し、ドロップ時に Commit でロースターへ反映します。
type DragGesture struct {
	dragged string
	order   []string
}

// NewDragGesture は現在の並び order から draggedID のドラッグを開始します。
func NewDragGesture(order []string, draggedID string) *DragGesture {
	return &DragGesture{
		dragged: draggedID,
		order:   append([]string(nil), order...),
	}
}

// Over はポインタ位置に応じて見た目上の並びを更新し、その並びを返します。
func (g *DragGesture) Over(pointerY float64, boxes []Box) []string {
	from := indexOf(g.order, g.dragged)
	if from < 0 {
		return g.Order()
	}
	before := DropTarget(pointerY, boxes, g.dragged)
	g.order = relocate(g.order, from, indexOf(g.order, before))
	return g.Order()
}

// Order は現在の見た目上の並びを返します。
func (g *DragGesture) Order() []string {
	return append([]string(nil), g.order...)
}

// Commit は見た目上の並びをロースターへ反映します。
func (g *DragGesture) Commit(r *Roster) error {
	return r.ReorderTo(g.order)
}

func indexOf(ids []string, id string) int {
	if id == "" {
		return -1
	}
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
