package validation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
)

// WinnerValidationInput contains everything needed to check a winner attestation.
// Exactly one of Attestation and NoticeLink is set.
type WinnerValidationInput struct {
	Attestation auctionapi.COSEBase64
	NoticeLink  auctionapi.COSEGzip

	AuctionID uuid.UUID
	Winner    string // empty when no winner is expected
	Amount    int64

	// StateDigest, when set, must equal the attested ledger digest.
	StateDigest string
	// ClientNonce, when set, must be echoed by the attestation.
	ClientNonce string
}

func (in *WinnerValidationInput) cose() (auctionapi.COSE, error) {
	switch {
	case in.Attestation != "" && in.NoticeLink != "":
		return nil, fmt.Errorf("set either an attestation or a notice link, not both")
	case in.Attestation != "":
		return in.Attestation.Decode()
	case in.NoticeLink != "":
		coseBytes, err := in.NoticeLink.Decompress()
		if err != nil {
			return nil, fmt.Errorf("decompress notice link: %w", err)
		}
		return coseBytes, nil
	default:
		return nil, fmt.Errorf("no attestation provided")
	}
}

// ValidateWinnerAttestation validates an enclave winner attestation and verifies:
//   - the auction, winner and amount match what the caller expects
//   - the winner hash recomputes from those values and the attested nonce
//   - the optional ledger digest and client nonce match
//
// Returns a WinnerValidationResult (call IsValid), or an error when the input is malformed.
func ValidateWinnerAttestation(input *WinnerValidationInput, policy Policy) (*WinnerValidationResult, error) {
	coseBytes, err := input.cose()
	if err != nil {
		return nil, err
	}

	baseResult, doc, userData, err := validateCommonAttestation(coseBytes, policy)
	if err != nil {
		return nil, err
	}

	result := &WinnerValidationResult{BaseValidationResult: *baseResult}

	var winnerData auctionapi.WinnerAttestationUserData
	if len(userData) == 0 {
		result.detail("Attestation user data missing")
		return result, nil
	}
	if err := decodeUserData(userData, &winnerData); err != nil {
		return nil, fmt.Errorf("failed to parse winner attestation: %w", err)
	}
	attestation := auctionapi.WinnerAttestationDoc{AttestationDoc: doc, UserData: &winnerData}

	result.AuctionMatch = validateAuction(input, attestation.UserData, result)
	result.WinnerMatch = validateWinner(input, attestation.UserData, result)
	result.AmountMatch = validateAmount(input, attestation.UserData, result)
	result.WinnerHashValid = validateWinnerHash(input, attestation.UserData, result)
	result.StateDigestValid = validateStateDigest(input, attestation.UserData, result)
	result.NonceValid = validateClientNonce(input, attestation.UserData, result)

	return result, nil
}

func validateAuction(input *WinnerValidationInput, data *auctionapi.WinnerAttestationUserData, result *WinnerValidationResult) bool {
	if data.AuctionID == input.AuctionID {
		result.detail(fmt.Sprintf("Auction ID matches: %s", input.AuctionID))
		return true
	}
	result.detail(fmt.Sprintf("Auction ID mismatch: expected %s, attestation has %s", input.AuctionID, data.AuctionID))
	return false
}

func validateWinner(input *WinnerValidationInput, data *auctionapi.WinnerAttestationUserData, result *WinnerValidationResult) bool {
	if data.Winner == input.Winner {
		if input.Winner == "" {
			result.detail("Winner validation passed: no winner expected and none attested")
		} else {
			result.detail(fmt.Sprintf("Winner validation passed: %s", input.Winner))
		}
		return true
	}
	result.detail(fmt.Sprintf("Winner mismatch: expected %q, attestation has %q", input.Winner, data.Winner))
	return false
}

func validateAmount(input *WinnerValidationInput, data *auctionapi.WinnerAttestationUserData, result *WinnerValidationResult) bool {
	if data.Amount == input.Amount {
		result.detail(fmt.Sprintf("Winning amount matches: %d", input.Amount))
		return true
	}
	result.detail(fmt.Sprintf("Winning amount mismatch: expected %d, attestation has %d", input.Amount, data.Amount))
	return false
}

func validateWinnerHash(input *WinnerValidationInput, data *auctionapi.WinnerAttestationUserData, result *WinnerValidationResult) bool {
	if data.WinnerHashNonce == "" {
		result.detail("Winner hash nonce missing from attestation")
		return false
	}

	computed := core.ComputeWinnerHash(input.AuctionID, input.Winner, input.Amount, data.WinnerHashNonce)
	if computed == data.WinnerHash {
		result.detail(fmt.Sprintf("Winner hash validation passed: %s", computed))
		return true
	}
	result.detail(fmt.Sprintf("Winner hash mismatch: computed %s, attestation has %s", computed, data.WinnerHash))
	return false
}

func validateStateDigest(input *WinnerValidationInput, data *auctionapi.WinnerAttestationUserData, result *WinnerValidationResult) bool {
	if input.StateDigest == "" {
		result.detail("State digest not checked")
		return true
	}
	if input.StateDigest == data.StateDigest {
		result.detail("State digest matches attestation")
		return true
	}
	result.detail(fmt.Sprintf("State digest mismatch: expected %s, attestation has %s", input.StateDigest, data.StateDigest))
	return false
}

func validateClientNonce(input *WinnerValidationInput, data *auctionapi.WinnerAttestationUserData, result *WinnerValidationResult) bool {
	if input.ClientNonce == "" {
		return true
	}
	if input.ClientNonce == data.ClientNonce {
		result.detail("Client nonce echoed by attestation")
		return true
	}
	result.detail(fmt.Sprintf("Client nonce mismatch: expected %q, attestation has %q", input.ClientNonce, data.ClientNonce))
	return false
}
