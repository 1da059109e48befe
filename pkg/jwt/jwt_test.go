package jwt

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims() Claims {
	now := time.Now()
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "quickpay",
			Subject:   "terminal-owner-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(15 * time.Minute)),
		},
		TerminalID: "pos-7",
	}
}

func TestVerify(t *testing.T) {
	key := generateKey(t)
	other := generateKey(t)
	v := NewVerifierWithKey(&key.PublicKey, "quickpay")

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "валидный токен", token: signToken(t, key, jwt.SigningMethodRS256, validClaims())},
		{name: "истёк", token: signToken(t, key, jwt.SigningMethodRS256, expired), wantErr: true},
		{name: "чужой издатель", token: signToken(t, key, jwt.SigningMethodRS256, wrongIssuer), wantErr: true},
		{name: "без exp", token: signToken(t, key, jwt.SigningMethodRS256, noExpiry), wantErr: true},
		{name: "подписан другим ключом", token: signToken(t, other, jwt.SigningMethodRS256, validClaims()), wantErr: true},
		{name: "алгоритм RS512", token: signToken(t, key, jwt.SigningMethodRS512, validClaims()), wantErr: true},
		{name: "мусор", token: "not.a.jwt", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Verify(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "pos-7", claims.TerminalID)
			assert.Equal(t, "terminal-owner-1", claims.Subject)
		})
	}
}

func TestLoadPublicKey(t *testing.T) {
	key := generateKey(t)
	dir := t.TempDir()

	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	files := map[string][]byte{
		"pkix.pem":  pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pkix}),
		"pkcs1.pem": pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)}),
		"bad.pem":   []byte("not a pem"),
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}

	for _, name := range []string{"pkix.pem", "pkcs1.pem"} {
		loaded, err := LoadPublicKey(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.True(t, key.PublicKey.Equal(loaded), name)
	}

	_, err = LoadPublicKey(filepath.Join(dir, "bad.pem"))
	assert.Error(t, err)

	_, err = LoadPublicKey(filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)

	v, err := NewVerifier(Config{PublicKeyPath: filepath.Join(dir, "pkix.pem"), Issuer: "quickpay"})
	require.NoError(t, err)
	_, err = v.Verify(signToken(t, key, jwt.SigningMethodRS256, validClaims()))
	assert.NoError(t, err)
}
