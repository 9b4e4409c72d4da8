package custody

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/cloudx-io/sealedauction/validation"
)

// SigningKey is the ECDSA P-256 key that signs transfer authorizations.
type SigningKey struct {
	privateKey *ecdsa.PrivateKey // never leaves the process
	PublicKey  *ecdsa.PublicKey
	KeyID      string
}

// GenerateSigningKey creates a fresh key from crypto/rand. Inside an enclave crypto/rand is
// fed by the NSM.
func GenerateSigningKey() (*SigningKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return newSigningKey(privateKey)
}

// LoadSigningKey reads an "EC PRIVATE KEY" PEM file.
func LoadSigningKey(path string) (*SigningKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("no EC PRIVATE KEY block in %s", path)
	}
	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if privateKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("signing key must be P-256")
	}
	return newSigningKey(privateKey)
}

func newSigningKey(privateKey *ecdsa.PrivateKey) (*SigningKey, error) {
	kid, err := validation.KeyID(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &SigningKey{
		privateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		KeyID:      kid,
	}, nil
}

// PublicKeyPEM returns the public key as a PKIX PEM block.
func (k *SigningKey) PublicKeyPEM() (string, error) {
	der, err := x509.MarshalPKIXPublicKey(k.PublicKey)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// PrivateKeyPEM exports the private key, for hosts that keep it on disk.
func (k *SigningKey) PrivateKeyPEM() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(k.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}
