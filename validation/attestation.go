package validation

import (
	"encoding/json"
	"fmt"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/auctionapi/parsing"
)

// validateCommonAttestation checks PCRs, the certificate chain and the COSE signature of a
// Nitro attestation and returns the parsed document with its raw user data.
func validateCommonAttestation(coseBytes auctionapi.COSE, policy Policy) (*BaseValidationResult, auctionapi.AttestationDoc, []byte, error) {
	attestationDoc, userData, err := parsing.ParseAttestationDoc(coseBytes)
	if err != nil {
		return nil, auctionapi.AttestationDoc{}, nil, fmt.Errorf("parse attestation document: %w", err)
	}
	if len(policy.PCRSets) == 0 {
		return nil, auctionapi.AttestationDoc{}, nil, fmt.Errorf("no known PCR sets configured")
	}

	result := &BaseValidationResult{ValidationDetails: []string{}}

	pcrMatch, matchedSet := ValidatePCRs(attestationDoc.PCRs, policy.PCRSets)
	result.PCRsValid = pcrMatch
	if !pcrMatch {
		result.detail(fmt.Sprintf("PCR0: %s (no match)", attestationDoc.PCRs.ImageFileHash))
		result.detail(fmt.Sprintf("PCR1: %s (no match)", attestationDoc.PCRs.KernelHash))
		result.detail(fmt.Sprintf("PCR2: %s (no match)", attestationDoc.PCRs.ApplicationHash))
	} else {
		result.detail("PCR measurements valid")
		result.detail(fmt.Sprintf("Matched PCR set: #%d (commit: %s)", matchedSet, policy.PCRSets[matchedSet].CommitHash))
	}

	switch {
	case attestationDoc.Certificate == "":
		result.detail("Missing certificate")
	case len(attestationDoc.CABundle) == 0:
		result.detail("Missing CA bundle")
	default:
		err = ValidateCertificateChain(attestationDoc.Certificate, attestationDoc.CABundle, attestationDoc.Timestamp, policy.Roots)
		if err != nil {
			result.detail(fmt.Sprintf("Certificate chain validation failed: %v", err))
		} else {
			result.CertificateValid = true
			result.detail("Certificate chain verified")
		}
	}

	if err := VerifyCOSESignature(coseBytes, attestationDoc.Certificate); err != nil {
		result.detail(fmt.Sprintf("COSE signature verification failed: %v", err))
	} else {
		result.SignatureValid = true
		result.detail("COSE signature verified")
	}

	return result, attestationDoc, userData, nil
}

func decodeUserData(userData []byte, v any) error {
	if len(userData) == 0 {
		return nil
	}
	if err := json.Unmarshal(userData, v); err != nil {
		return fmt.Errorf("parse user data: %w", err)
	}
	return nil
}
