package validation

import (
	"fmt"
	"strings"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// ValidateKeyAttestation validates the attestation that publishes an enclave's
// transfer-signing key.
//
// Parameters:
//   - attestation: base64 COSE_Sign1 from KeyResult.Attestation
//   - expectedPublicKey: PEM public key the caller intends to pin
//
// Returns an error only when validation cannot be performed at all.
func ValidateKeyAttestation(attestation auctionapi.COSEBase64, expectedPublicKey string, policy Policy) (*KeyValidationResult, error) {
	coseBytes, err := attestation.Decode()
	if err != nil {
		return nil, err
	}

	baseResult, doc, userData, err := validateCommonAttestation(coseBytes, policy)
	if err != nil {
		return nil, err
	}

	var keyUserData auctionapi.KeyAttestationUserData
	if err := decodeUserData(userData, &keyUserData); err != nil {
		return nil, fmt.Errorf("failed to parse key attestation: %w", err)
	}
	keyAttestation := auctionapi.KeyAttestationDoc{AttestationDoc: doc, UserData: &keyUserData}

	result := &KeyValidationResult{BaseValidationResult: *baseResult}

	attested := strings.TrimSpace(keyAttestation.UserData.PublicKey)
	if attested == "" {
		result.detail("Public key missing from attestation")
		return result, nil
	}

	if strings.TrimSpace(expectedPublicKey) == attested {
		result.PublicKeyMatch = true
		result.detail("Public key matches attestation")
	} else {
		result.detail("Public key mismatch: provided key does not match attested key")
	}

	publicKey, err := ParsePublicKeyPEM(attested)
	if err != nil {
		result.detail(fmt.Sprintf("Attested public key unreadable: %v", err))
		return result, nil
	}
	kid, err := KeyID(publicKey)
	if err != nil {
		return nil, err
	}
	if kid == keyAttestation.UserData.KeyID {
		result.KeyIDMatch = true
		result.detail(fmt.Sprintf("Key ID matches attested key: %s", kid))
	} else {
		result.detail(fmt.Sprintf("Key ID mismatch: derived %s, attestation has %s", kid, keyAttestation.UserData.KeyID))
	}

	return result, nil
}
