package utils

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

const codeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomCode returns n characters drawn uniformly from A-Z0-9 using
// crypto/rand. rand.Int avoids modulo bias.
func RandomCode(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("invalid length")
	}
	var sb strings.Builder
	alphaLen := big.NewInt(int64(len(codeCharset)))
	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, alphaLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(codeCharset[num.Int64()])
	}
	return sb.String(), nil
}

// ConfirmationCode returns a guest-facing code of the form XXXX-XXXX.
func ConfirmationCode() (string, error) {
	raw, err := RandomCode(8)
	if err != nil {
		return "", err
	}
	return raw[:4] + "-" + raw[4:], nil
}

// NormalizeCode upper-cases a code typed by a guest and restores the
// hyphen, so "ab4d93kf" and "AB4D-93KF" look up the same reservation.
func NormalizeCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	if len(s) != 8 {
		return s
	}
	return s[:4] + "-" + s[4:]
}
