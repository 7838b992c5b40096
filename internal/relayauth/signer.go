// Package relayauth signs the short-lived RS256 service tokens attached to
// outbound relay calls.
package relayauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTokenTTL = 60 * time.Second
	DefaultKeyID    = "relay-active"
	DefaultIssuer   = "docassist-api"
	DefaultAudience = "ai-orchestrator"
)

// Options configures service token signing.
type Options struct {
	PrivateKeyPath string
	KeyID          string
	Issuer         string
	Audience       string
	TTL            time.Duration
}

// Signer issues service JWTs and reuses one until it is close to expiry.
type Signer struct {
	issuer   string
	audience string
	ttl      time.Duration
	key      *rsa.PrivateKey
	kid      string

	mu        sync.Mutex
	cached    string
	cachedExp time.Time
	now       func() time.Time
}

// NewSigner loads the RSA private key and builds a signer.
func NewSigner(opts Options) (*Signer, error) {
	path := strings.TrimSpace(opts.PrivateKeyPath)
	if path == "" {
		return nil, errors.New("relay token private key path is required")
	}
	key, err := loadRSAPrivateKeyFromPEMFile(path)
	if err != nil {
		return nil, fmt.Errorf("load relay jwt private key: %w", err)
	}
	return newSigner(key, opts), nil
}

func newSigner(key *rsa.PrivateKey, opts Options) *Signer {
	s := &Signer{
		issuer:   strings.TrimSpace(opts.Issuer),
		audience: strings.TrimSpace(opts.Audience),
		ttl:      opts.TTL,
		key:      key,
		kid:      strings.TrimSpace(opts.KeyID),
		now:      time.Now,
	}
	if s.issuer == "" {
		s.issuer = DefaultIssuer
	}
	if s.audience == "" {
		s.audience = DefaultAudience
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTokenTTL
	}
	if s.kid == "" {
		s.kid = DefaultKeyID
	}
	return s
}

// Token returns a valid service token, signing a new one when the cached
// token has less than a quarter of its lifetime left.
func (s *Signer) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if s.cached != "" && s.cachedExp.Sub(now) > s.ttl/4 {
		return s.cached, nil
	}
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        randomHexID(12),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = s.kid
	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", err
	}
	s.cached, s.cachedExp = signed, exp
	return signed, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}
