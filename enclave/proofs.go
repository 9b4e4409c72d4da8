package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/rs/zerolog/log"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/custody"
)

// EnclaveAttester interface for dependency injection and testing
type EnclaveAttester interface {
	Attest(options enclave.AttestationOptions) ([]byte, error)
}

// getEnclaveAttester returns the NSM handle, or an error outside a Nitro Enclave.
func getEnclaveAttester() (EnclaveAttester, error) {
	handle, err := enclave.GetOrInitializeHandle()
	if err != nil {
		return nil, fmt.Errorf("NSM not available: %w", err)
	}
	return handle, nil
}

// generateSecureRandomBytes reads from crypto/rand, which inside an enclave is seeded
// from the NSM.
func generateSecureRandomBytes(length int) ([]byte, error) {
	randomBytes := make([]byte, length)
	if _, err := rand.Read(randomBytes); err != nil {
		return nil, fmt.Errorf("entropy generation failed: %w", err)
	}
	return randomBytes, nil
}

func generateNonce() (string, error) {
	randomBytes, err := generateSecureRandomBytes(32)
	if err != nil {
		return "", fmt.Errorf("failed to generate secure nonce - %w", err)
	}
	return hex.EncodeToString(randomBytes), nil
}

// GenerateWinnerAttestation asks the NSM to attest the announced result together with a
// digest of the full ledger at announcement time.
func GenerateWinnerAttestation(attester EnclaveAttester, ann core.WinnerAnnouncement, state core.State, clientNonce string) (auctionapi.COSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	winnerHashNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate winner hash nonce: %w", err)
	}

	userData := &auctionapi.WinnerAttestationUserData{
		AuctionID:       ann.AuctionID,
		Winner:          ann.Winner,
		Amount:          ann.Amount,
		EndTime:         ann.EndTime,
		WinnerHash:      core.ComputeWinnerHash(ann.AuctionID, ann.Winner, ann.Amount, winnerHashNonce),
		WinnerHashNonce: winnerHashNonce,
		StateDigest:     core.ComputeStateDigest(state),
		ClientNonce:     clientNonce,
		Timestamp:       time.Now().UTC(),
	}

	return attest(attester, userData, "winner")
}

// GenerateKeyAttestation binds the transfer-signing key to this enclave image.
func GenerateKeyAttestation(attester EnclaveAttester, key *custody.SigningKey) (auctionapi.COSE, error) {
	if attester == nil {
		return nil, fmt.Errorf("enclave attester is nil")
	}

	publicKeyPEM, err := key.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key to PEM: %w", err)
	}

	return attest(attester, &auctionapi.KeyAttestationUserData{
		KeyAlgorithm: "ECDSA-P256",
		KeyID:        key.KeyID,
		PublicKey:    publicKeyPEM,
	}, "key")
}

func attest(attester EnclaveAttester, userData any, kind string) (auctionapi.COSE, error) {
	userDataBytes, err := json.Marshal(userData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s user data: %w", kind, err)
	}
	randomNonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate attestation nonce: %w", err)
	}

	attestationCBOR, err := attester.Attest(enclave.AttestationOptions{
		UserData: userDataBytes,
		Nonce:    []byte(randomNonce),
	})
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Msg("NSM attestation failed")
		return nil, fmt.Errorf("NSM %s attestation failed: %w", kind, err)
	}

	log.Info().Str("kind", kind).Int("bytes", len(attestationCBOR)).Msg("NSM attestation generated")
	return auctionapi.COSE(attestationCBOR), nil
}
