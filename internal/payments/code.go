package payments

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"strings"
)

// CodeAlphabet omits characters that are easy to misread aloud or on a
// receipt (0/O, 1/I).
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	defaultCodeLength = 6
	minCodeLength     = 4
	maxCodeLength     = 12
)

// CodeGenerator draws human-enterable validation codes.
type CodeGenerator struct {
	length int
	source io.Reader
}

func NewCodeGenerator(length int) *CodeGenerator {
	if length <= 0 {
		length = defaultCodeLength
	}
	if length < minCodeLength {
		length = minCodeLength
	}
	if length > maxCodeLength {
		length = maxCodeLength
	}
	return &CodeGenerator{length: length, source: rand.Reader}
}

func (g *CodeGenerator) Next() (string, error) {
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(g.length)
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(g.source, max)
		if err != nil {
			return "", fmt.Errorf("draw validation code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode uppercases user input and strips separators staff may type.
func NormalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.NewReplacer("-", "", " ", "").Replace(code)
}
