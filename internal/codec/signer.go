package codec

import (
	"crypto"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// LoadError wraps a failure to parse a private key blob.
type LoadError struct {
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("codec: load private key: %s: %v", e.Reason, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Signer signs request parameters with an Ed25519 private key, per
// Binance's Ed25519 WS-API authentication scheme.
type Signer struct {
	key ed25519.PrivateKey
}

// LoadPrivateKey parses a base64-wrapped, PEM-encoded, unencrypted PKCS#8
// Ed25519 private key, as produced by:
//
//	openssl genpkey -algorithm ed25519 -out key.pem
//	base64 -w0 key.pem
func LoadPrivateKey(base64PEM string) (*Signer, error) {
	pemBytes, err := base64.StdEncoding.DecodeString(base64PEM)
	if err != nil {
		return nil, &LoadError{Reason: "invalid base64", Err: err}
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, &LoadError{Reason: "no PEM block found", Err: fmt.Errorf("pem.Decode returned nil")}
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &LoadError{Reason: "invalid PKCS8 DER", Err: err}
	}

	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, &LoadError{Reason: "key is not Ed25519", Err: fmt.Errorf("got %T", parsed)}
	}

	return &Signer{key: key}, nil
}

// Sign signs the URL-encoded, insertion-ordered form of params and returns
// the base64-encoded Ed25519 signature.
func (s *Signer) Sign(params *Params) (string, error) {
	payload := []byte(params.URLEncoded())
	sig, err := s.key.Sign(nil, payload, crypto.Hash(0))
	if err != nil {
		return "", fmt.Errorf("codec: sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKey returns the public half of the loaded key, for verification in
// tests.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}
