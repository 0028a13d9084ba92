package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignerConfig holds the caller's signing key.
type SignerConfig struct {
	Algorithm string

	// HS256
	SecretKey string

	// RS256
	PrivateKeyPEM string

	// TTL of issued tokens; zero means one hour.
	TTL time.Duration
}

// Signer issues bearer tokens for a caller.
type Signer struct {
	method jwt.SigningMethod
	key    interface{}
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer for config.Algorithm.
func NewSigner(config SignerConfig) (*Signer, error) {
	s := &Signer{ttl: config.TTL, now: time.Now}
	if s.ttl <= 0 {
		s.ttl = time.Hour
	}

	switch config.Algorithm {
	case AlgHS256:
		if config.SecretKey == "" {
			return nil, fmt.Errorf("HS256 requires secret key")
		}
		s.method, s.key = jwt.SigningMethodHS256, []byte(config.SecretKey)
	case AlgRS256:
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(config.PrivateKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to load private key from PEM: %w", err)
		}
		s.method, s.key = jwt.SigningMethodRS256, key
	default:
		return nil, fmt.Errorf("unsupported algorithm: %s", config.Algorithm)
	}
	return s, nil
}

// Sign issues a token for subject with the given roles and scopes.
func (s *Signer) Sign(subject string, roles, scopes []string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":    subject,
		"roles":  roles,
		"scopes": scopes,
		"iat":    jwt.NewNumericDate(now),
		"exp":    jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token, err := jwt.NewWithClaims(s.method, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// PilotToken issues the token a flight controller presents to the hub.
func (s *Signer) PilotToken(subject string) (string, error) {
	return s.Sign(subject, []string{RolePilot}, []string{ScopeFly, ScopeRead, ScopeTelemetry})
}

// PublicKey returns the RS256 verification key, or nil for HS256.
func (s *Signer) PublicKey() *rsa.PublicKey {
	if k, ok := s.key.(*rsa.PrivateKey); ok {
		return &k.PublicKey
	}
	return nil
}
