// Package jwt — проверка RS256 токенов клиентского API.
// Токены выдаёт внешний Identity Provider; сервису нужен только публичный ключ.
package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken — подпись, срок действия или издатель токена не прошли проверку.
var ErrInvalidToken = errors.New("невалидный токен")

// Claims — данные токена кассового терминала.
type Claims struct {
	jwt.RegisteredClaims
	TerminalID string `json:"terminal_id,omitempty"` // устройство, с которого создаются ссылки
}

// Config — параметры Verifier.
type Config struct {
	PublicKeyPath string
	Issuer        string
}

// Verifier проверяет токены публичным ключом.
type Verifier struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewVerifier загружает публичный ключ и создаёт Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	publicKey, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewVerifierWithKey(publicKey, cfg.Issuer), nil
}

// NewVerifierWithKey создаёт Verifier из готового ключа.
func NewVerifierWithKey(publicKey *rsa.PublicKey, issuer string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	return &Verifier{publicKey: publicKey, parser: jwt.NewParser(opts...)}
}

// Verify проверяет токен и возвращает claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// LoadPublicKey читает RSA публичный ключ из PEM (PKIX или PKCS#1).
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("не удалось декодировать PEM блок из %s", path)
	}

	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга публичного ключа: %w", err)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA публичным ключом")
	}

	return rsaKey, nil
}
