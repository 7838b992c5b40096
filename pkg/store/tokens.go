package store

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

// AccessTokenName labels tokens issued on register/login.
const AccessTokenName = "auth_token"

const (
	tokenSecretLength = 40
	tokenAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// newTokenSecret returns a random alphanumeric secret.
func newTokenSecret() (string, error) {
	var b strings.Builder
	b.Grow(tokenSecretLength)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := 0; i < tokenSecretLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(tokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func hashTokenSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func plainToken(id uint, secret string) string {
	return strconv.FormatUint(uint64(id), 10) + "|" + secret
}

// splitPlainToken parses "<id>|<secret>". Tokens without an id prefix are
// returned with hasID=false so callers can fall back to a hash lookup.
func splitPlainToken(token string) (id uint, hasID bool, secret string) {
	token = strings.TrimSpace(token)
	idPart, rest, found := strings.Cut(token, "|")
	if !found {
		return 0, false, token
	}
	n, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil || n == 0 {
		return 0, false, ""
	}
	return uint(n), true, rest
}

func tokenHashMatches(stored, secret string) bool {
	if stored == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(hashTokenSecret(secret))) == 1
}
