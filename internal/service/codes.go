package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Ambiguous glyphs (0/O, 1/I) are left out so printed codes read back cleanly.
const scanCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	namePunctuation = regexp.MustCompile(`[^\p{L}\p{N}\s_-]`)
	nameSeparators  = regexp.MustCompile(`[\s-]+`)
)

// GenerateScanCode returns a random code of the given length.
func GenerateScanCode(length int) (string, error) {
	if length <= 0 {
		length = 8
	}
	max := big.NewInt(int64(len(scanCodeAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate scan code: %w", err)
		}
		b.WriteByte(scanCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateStudentID builds "last-first-gradyear-NNN" with a random suffix.
func GenerateStudentID(firstName, lastName string, gradYear int) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(999))
	if err != nil {
		return "", fmt.Errorf("generate student id: %w", err)
	}
	return fmt.Sprintf("%s-%s-%d-%03d", cleanName(lastName), cleanName(firstName), gradYear, n.Int64()+1), nil
}

func cleanName(name string) string {
	name = namePunctuation.ReplaceAllString(strings.TrimSpace(name), "")
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "_"))
}

func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}
