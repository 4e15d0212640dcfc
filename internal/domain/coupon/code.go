package coupon

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/xenking/kart-fulfillment/internal/domain"
)

const (
	minCodeLength     = 4
	maxCodeLength     = 20
	defaultCodeLength = 8
	codeAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// ErrInvalidCode is returned for a malformed coupon code.
var ErrInvalidCode = fmt.Errorf("%w: coupon code must be %d-%d letters or digits",
	domain.ErrValidation, minCodeLength, maxCodeLength)

var codePattern = regexp.MustCompile(`^[A-Z0-9]+$`)

// Code is a normalized coupon code. Comparison is case-insensitive because
// codes are always stored upper-case.
type Code string

// ParseCode trims and upper-cases s and validates the result.
func ParseCode(s string) (Code, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if len(v) < minCodeLength || len(v) > maxCodeLength || !codePattern.MatchString(v) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCode, s)
	}
	return Code(v), nil
}

// GenerateCode returns a random code of the given length; 0 picks the default.
func GenerateCode(length int) (Code, error) {
	if length == 0 {
		length = defaultCodeLength
	}
	if length < minCodeLength || length > maxCodeLength {
		return "", fmt.Errorf("%w: length %d", ErrInvalidCode, length)
	}
	var b strings.Builder
	b.Grow(length)
	limit := big.NewInt(int64(len(codeAlphabet)))
	for range length {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return Code(b.String()), nil
}

// GenerateCodeWithPrefix returns prefix followed by four random characters.
func GenerateCodeWithPrefix(prefix string) (Code, error) {
	suffix, err := GenerateCode(minCodeLength)
	if err != nil {
		return "", err
	}
	return ParseCode(prefix + string(suffix))
}

func (c Code) String() string { return string(c) }
