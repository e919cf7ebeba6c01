package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/coin-trader/internal/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCredentials = entity.Credentials{AccessKey: "test-access-key", SecretKey: "test-secret-key"}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewSigner_RejectsEmptyKeys(t *testing.T) {
	_, err := NewSigner(entity.Credentials{AccessKey: "key", SecretKey: "  "})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = NewSigner(entity.Credentials{AccessKey: "", SecretKey: "secret"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSigner_SignatureVerifiesWithSameSecret(t *testing.T) {
	signer, err := NewSigner(testCredentials)
	require.NoError(t, err)

	queries := []string{
		"",
		"market=KRW-BTC&side=bid&volume=0.01&price=95000&ord_type=limit",
		"market=KRW-ETH&side=ask&volume=1.5&ord_type=market",
	}

	for _, query := range queries {
		token, err := signer.Sign(query)
		require.NoError(t, err)

		mac := hmac.New(sha256.New, []byte(testCredentials.SecretKey))
		mac.Write([]byte(token.Header + "." + token.Payload))
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), token.Signature)

		payload, err := VerifyToken(token.String(), testCredentials.SecretKey)
		require.NoError(t, err)
		assert.Equal(t, testCredentials.AccessKey, payload.AccessKey)

		_, err = VerifyToken(token.String(), "other-secret")
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}

func TestSigner_EncodingIsBase64URLWithoutPadding(t *testing.T) {
	signer, err := NewSigner(testCredentials)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		token, err := signer.Sign("market=KRW-BTC&side=bid&volume=" + strconv.Itoa(i) + "&ord_type=market")
		require.NoError(t, err)

		for _, part := range []string{token.Header, token.Payload, token.Signature} {
			assert.NotContains(t, part, "=")
			assert.NotContains(t, part, "+")
			assert.NotContains(t, part, "/")
		}
	}

	token, err := signer.Sign("")
	require.NoError(t, err)

	rawHeader, err := base64.RawURLEncoding.DecodeString(token.Header)
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"HS256","typ":"JWT"}`, string(rawHeader))
	assert.True(t, strings.HasPrefix(token.BearerHeader(), "Bearer "))
}

func TestSigner_QueryHashOnlyWhenQueryPresent(t *testing.T) {
	signer, err := NewSigner(testCredentials)
	require.NoError(t, err)

	token, err := signer.Sign("")
	require.NoError(t, err)
	rawPayload, err := base64.RawURLEncoding.DecodeString(token.Payload)
	require.NoError(t, err)

	var claims map[string]any
	require.NoError(t, json.Unmarshal(rawPayload, &claims))
	assert.NotContains(t, claims, "query_hash")
	assert.NotContains(t, claims, "query_hash_alg")

	query := "market=KRW-BTC&side=bid&volume=0.01&price=95000&ord_type=limit"
	token, err = signer.Sign(query)
	require.NoError(t, err)
	payload, err := VerifyToken(token.String(), testCredentials.SecretKey)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(query))
	assert.Equal(t, hex.EncodeToString(sum[:]), payload.QueryHash)
	assert.Equal(t, "SHA256", payload.QueryHashAlg)
}

func TestSigner_NonceStrictlyIncreasing(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	signer, err := NewSigner(testCredentials, WithClock(fixedClock(now)))
	require.NoError(t, err)

	first, err := signer.Sign("a=1")
	require.NoError(t, err)
	second, err := signer.Sign("a=1")
	require.NoError(t, err)

	firstPayload, err := VerifyToken(first.String(), testCredentials.SecretKey)
	require.NoError(t, err)
	secondPayload, err := VerifyToken(second.String(), testCredentials.SecretKey)
	require.NoError(t, err)

	assert.Equal(t, "1700000000000", firstPayload.Nonce)
	assert.Equal(t, "1700000000001", secondPayload.Nonce)
	assert.NotEqual(t, first.Signature, second.Signature)
}

func TestVerifyToken_Malformed(t *testing.T) {
	_, err := VerifyToken("abc.def", "secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSigner_WipeDisablesSigning(t *testing.T) {
	signer, err := NewSigner(testCredentials)
	require.NoError(t, err)

	signer.Wipe()
	assert.Empty(t, signer.AccessKey())

	_, err = signer.Sign("a=1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
