package pdf

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	pdfExt             = ".pdf"
	randomSuffixLength = 10
	randomAlphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var randomSource io.Reader = rand.Reader

var unsafeFilenameChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", `"`, "_", "/", "_", `\`, "_", "|", "_", "?", "_", "*", "_",
)

// SanitizeFilename はファイル名に使えない文字 <>:"/\|?* を _ に置き換え、拡張子 .pdf を付けます。
func SanitizeFilename(name string) string {
	sanitized := unsafeFilenameChars.Replace(strings.TrimSpace(name))
	if strings.HasSuffix(strings.ToLower(sanitized), pdfExt) {
		return sanitized
	}
	return sanitized + pdfExt
}

// RandomFilename は prefix に英小文字・数字10文字を続けたファイル名を返します。
func RandomFilename(prefix string) (string, error) {
	alphabetSize := big.NewInt(int64(len(randomAlphabet)))
	buf := make([]byte, randomSuffixLength)
	for i := range buf {
		n, err := rand.Int(randomSource, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("failed to generate filename: %w", err)
		}
		buf[i] = randomAlphabet[n.Int64()]
	}
	return prefix + string(buf) + pdfExt, nil
}

// DownloadFilename はユーザー指定のファイル名があればそれを整え、なければランダムな名前を返します。
func DownloadFilename(userInput, prefix string) (string, error) {
	if strings.TrimSpace(userInput) == "" {
		return RandomFilename(prefix)
	}
	return SanitizeFilename(userInput), nil
}
