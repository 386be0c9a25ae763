package pdf

import (
	"bytes"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// CountPages はPDFのページ数を返します。読み込めない場合は0を返します。
// 取り込み時の表示用であり、結合可否の判定には使いません。
func (s *Service) CountPages(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	pages, err := pdfapi.PageCount(bytes.NewReader(content), newConfiguration())
	if err != nil {
		s.logger.Debug("page count failed", "error", err)
		return 0
	}
	return pages
}
