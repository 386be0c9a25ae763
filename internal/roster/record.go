// Package roster はアップロードされたPDFの順序付きリスト（ロースター）を管理します。
//
// ロースターの並びがそのまま結合順序になります（先頭のファイルが最初に結合される）。
// 範囲外の位置指定などはエラーではなく何もしない操作として扱います。
package roster

import (
	"bytes"
	"fmt"
	"time"
)

// Rotation はファイル単位で追加適用する回転角度（度）です。
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

// Next は90度進めた角度を返します（360で0に戻る）。
func (r Rotation) Next() Rotation {
	return (r.normalize() + 90) % 360
}

// Valid は角度が 0/90/180/270 のいずれかであるかを返します。
func (r Rotation) Valid() bool {
	switch r {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return true
	default:
		return false
	}
}

func (r Rotation) normalize() Rotation {
	n := ((int(r) % 360) + 360) % 360
	return Rotation(n - n%90)
}

// FileRecord はロースターで管理される1つのPDFファイルです。
type FileRecord struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Pages    int       `json:"pages"`
	Rotation Rotation  `json:"rotation"`
	AddedAt  time.Time `json:"addedAt"`

	content []byte
}

// Content はファイル内容のコピーを返します。
// 呼び出し側が書き換えても保持している内容には影響しません。
func (f FileRecord) Content() []byte {
	return bytes.Clone(f.content)
}

// SizeLabel は表示用のサイズ文字列です（例: "12.3 KB"）。
func (f FileRecord) SizeLabel() string {
	return fmt.Sprintf("%.1f KB", float64(f.Size)/1024)
}
