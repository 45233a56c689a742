package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/groupflow/internal/domain"
	"go.uber.org/zap"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestSignAndVerify(t *testing.T) {
	key := newKey(t)
	tok, err := NewSigner(key, time.Hour).Sign(&domain.User{ID: "u1", Rank: "mega"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, int64(3600), tok.ExpiresIn)

	claims, err := NewVerifier(&key.PublicKey).VerifyToken("Bearer " + tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "mega", claims.Rank)
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	key, other := newKey(t), newKey(t)
	v := NewVerifier(&key.PublicKey)

	foreign, err := NewSigner(other, time.Hour).Sign(&domain.User{ID: "u1"})
	require.NoError(t, err)
	_, err = v.VerifyToken(foreign.AccessToken)
	assert.Error(t, err)

	expiredSigner := NewSigner(key, time.Minute)
	expiredSigner.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredSigner.Sign(&domain.User{ID: "u1"})
	require.NoError(t, err)
	_, err = v.VerifyToken(expired.AccessToken)
	assert.Error(t, err)

	_, err = v.VerifyToken("garbage")
	assert.Error(t, err)
}

func TestParseRSAKeys(t *testing.T) {
	key := newKey(t)
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	priv, err := ParseRSAPrivateKey(privPEM)
	require.NoError(t, err)
	assert.True(t, priv.Equal(key))

	pub, err := ParseRSAPublicKey(pubPEM)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
	_, err = ParseRSAPrivateKey([]byte("not a pem"))
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	key := newKey(t)
	tok, err := NewSigner(key, time.Hour).Sign(&domain.User{ID: "u1", Rank: "rookie"})
	require.NoError(t, err)

	var seenUser, seenRank string
	h := NewMiddleware(NewVerifier(&key.PublicKey), zap.NewNop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenUser, seenRank = UserID(r.Context()), Rank(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seenUser)
	assert.Equal(t, "rookie", seenRank)

	for _, header := range []string{"", "Bearer nope"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}
