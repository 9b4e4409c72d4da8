package validation

// BaseValidationResult contains common validation results for all attestation types
type BaseValidationResult struct {
	PCRsValid         bool
	CertificateValid  bool
	SignatureValid    bool
	ValidationDetails []string
}

func (r *BaseValidationResult) detail(msg string) {
	r.ValidationDetails = append(r.ValidationDetails, msg)
}

// KeyValidationResult contains validation results specific to signing-key attestations
type KeyValidationResult struct {
	BaseValidationResult
	PublicKeyMatch bool
	KeyIDMatch     bool
}

// IsValid returns true if all key validation checks passed
func (r *KeyValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid && r.PublicKeyMatch && r.KeyIDMatch
}

// WinnerValidationResult contains validation results specific to winner attestations
type WinnerValidationResult struct {
	BaseValidationResult
	AuctionMatch     bool
	WinnerMatch      bool
	AmountMatch      bool
	WinnerHashValid  bool
	StateDigestValid bool
	NonceValid       bool
}

// IsValid returns true if all winner validation checks passed
func (r *WinnerValidationResult) IsValid() bool {
	return r.PCRsValid && r.CertificateValid && r.SignatureValid &&
		r.AuctionMatch && r.WinnerMatch && r.AmountMatch &&
		r.WinnerHashValid && r.StateDigestValid && r.NonceValid
}

// PCRSet represents a known-good set of PCR measurements
type PCRSet struct {
	PCR0       string `json:"pcr0"`
	PCR1       string `json:"pcr1"`
	PCR2       string `json:"pcr2"`
	CommitHash string `json:"commit_hash"` // source commit the enclave image was built from
}

// PCRConfig represents the PCR configuration file structure
type PCRConfig struct {
	PCRSets []PCRSet `json:"pcr_sets"`
}
