package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/coin-trader/internal/entity"
)

const upbitQueryHashAlg = "SHA256"

var upbitTokenHeader = mustEncodeSegment(struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}{Alg: "HS256", Typ: "JWT"})

type Signer struct {
	accessKey string
	secretKey []byte
	now       func() time.Time

	mu        sync.Mutex
	lastNonce int64
}

type SignerOption func(*Signer)

// WithClock overrides the wall clock used for nonces.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSigner(credentials entity.Credentials, opts ...SignerOption) (*Signer, error) {
	accessKey := strings.TrimSpace(credentials.AccessKey)
	secretKey := strings.TrimSpace(credentials.SecretKey)
	if accessKey == "" {
		return nil, fmt.Errorf("%w: access key is empty", ErrInvalidCredentials)
	}
	if secretKey == "" {
		return nil, fmt.Errorf("%w: secret key is empty", ErrInvalidCredentials)
	}

	signer := &Signer{
		accessKey: accessKey,
		secretKey: []byte(secretKey),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(signer)
	}

	return signer, nil
}

func (s *Signer) AccessKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessKey
}

// Sign builds a fresh token. An empty query omits query_hash and query_hash_alg.
func (s *Signer) Sign(query string) (entity.AuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.secretKey) == 0 {
		return entity.AuthToken{}, fmt.Errorf("%w: signer was wiped", ErrInvalidCredentials)
	}

	payload := entity.AuthTokenPayload{
		AccessKey: s.accessKey,
		Nonce:     strconv.FormatInt(s.nextNonce(), 10),
	}
	if query != "" {
		payload.QueryHash = QueryHash(query)
		payload.QueryHashAlg = upbitQueryHashAlg
	}

	encodedPayload, err := encodeSegment(payload)
	if err != nil {
		return entity.AuthToken{}, fmt.Errorf("encode token payload: %w", err)
	}

	return entity.AuthToken{
		Header:    upbitTokenHeader,
		Payload:   encodedPayload,
		Signature: signSegments(s.secretKey, upbitTokenHeader, encodedPayload),
	}, nil
}

// Wipe zeroes the key material. Sign fails afterwards.
func (s *Signer) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for idx := range s.secretKey {
		s.secretKey[idx] = 0
	}
	s.secretKey = nil
	s.accessKey = ""
}

// nextNonce returns the current millisecond, bumped past the previous nonce
// when the clock has not advanced. Callers hold mu.
func (s *Signer) nextNonce() int64 {
	nonce := s.now().UnixMilli()
	if nonce <= s.lastNonce {
		nonce = s.lastNonce + 1
	}
	s.lastNonce = nonce

	return nonce
}

func QueryHash(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// VerifyToken checks the HMAC of a compact token and returns its payload.
func VerifyToken(token string, secretKey string) (entity.AuthTokenPayload, error) {
	parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(token, "Bearer ")), ".")
	if len(parts) != 3 {
		return entity.AuthTokenPayload{}, fmt.Errorf("%w: expected 3 segments, got %d", ErrInvalidToken, len(parts))
	}

	expected := signSegments([]byte(secretKey), parts[0], parts[1])
	if !hmac.Equal([]byte(expected), []byte(parts[2])) {
		return entity.AuthTokenPayload{}, fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}

	rawPayload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return entity.AuthTokenPayload{}, fmt.Errorf("%w: payload: %v", ErrInvalidToken, err)
	}

	var payload entity.AuthTokenPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return entity.AuthTokenPayload{}, fmt.Errorf("%w: payload: %v", ErrInvalidToken, err)
	}

	return payload, nil
}

func signSegments(secretKey []byte, header, payload string) string {
	h := hmac.New(sha256.New, secretKey)
	h.Write([]byte(header + "." + payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func encodeSegment(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func mustEncodeSegment(v any) string {
	segment, err := encodeSegment(v)
	if err != nil {
		panic(err)
	}
	return segment
}
