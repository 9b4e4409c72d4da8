package validation

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
)

// TransferAlgorithm is the COSE algorithm of signed transfer authorizations.
const TransferAlgorithm = cose.AlgorithmES256

// VerifiedTransfer is a transfer authorization whose signature checked out.
type VerifiedTransfer struct {
	Transfer core.Transfer `json:"transfer"`
	KeyID    string        `json:"key_id"`
}

// VerifyTransferAuthorization checks a COSE_Sign1 transfer authorization against the
// enclave's signing key and decodes the transfer it carries.
func VerifyTransferAuthorization(auth auctionapi.COSE, publicKey *ecdsa.PublicKey) (*VerifiedTransfer, error) {
	if publicKey == nil {
		return nil, fmt.Errorf("no verification key")
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(auth); err != nil {
		return nil, fmt.Errorf("parse transfer authorization: %w", err)
	}

	verifier, err := cose.NewVerifier(TransferAlgorithm, publicKey)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("transfer signature verification failed: %w", err)
	}

	t, err := core.DecodeTransfer(msg.Payload)
	if err != nil {
		return nil, err
	}

	kid, _ := msg.Headers.Unprotected[cose.HeaderLabelKeyID].([]byte)
	return &VerifiedTransfer{Transfer: t, KeyID: string(kid)}, nil
}

// ParsePublicKeyPEM decodes a PKIX "PUBLIC KEY" block holding an ECDSA key.
func ParsePublicKeyPEM(data string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("no PUBLIC KEY block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, not ECDSA", key)
	}
	return ecKey, nil
}

// KeyID derives the short identifier carried in the kid header: the first 8 bytes of the
// SHA-256 of the PKIX encoding, hex encoded.
func KeyID(publicKey *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return hex.EncodeToString(sum[:8]), nil
}
