package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/validation"
)

// plainTextHandler writes bare messages to stdout, no timestamps or levels.
type plainTextHandler struct{}

func (*plainTextHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (*plainTextHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintln(os.Stdout, r.Message)
	return err
}

func (h *plainTextHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *plainTextHandler) WithGroup(_ string) slog.Handler {
	return h
}

var logger = slog.New(&plainTextHandler{})

func main() {
	var (
		responsePath  = flag.String("response", "", "Path to key_request response JSON file (required)")
		publicKeyPath = flag.String("public-key", "", "Path to public key PEM file (required)")
		pcrConfig     = flag.String("pcrs", validation.DefaultPCRConfigPath(), "Known PCR sets JSON")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help || *responsePath == "" || *publicKeyPath == "" {
		showUsage()
		if *responsePath == "" || *publicKeyPath == "" {
			os.Exit(1)
		}
		os.Exit(0)
	}

	keyResult, err := readKeyResult(*responsePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		os.Exit(2)
	}

	publicKey, err := os.ReadFile(*publicKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}

	policy, err := validation.PolicyFromFile(*pcrConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading PCR configuration: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateKeyAttestation(keyResult.Attestation, string(publicKey), policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		if err := outputJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
	} else {
		outputText(keyResult, result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	logger.Info("Enclave Signing Key Validator")
	logger.Info("")
	logger.Info("Checks that a transfer-signing key was generated inside an attested enclave")
	logger.Info("before custody rails pin it.")
	logger.Info("")
	logger.Info("Usage:")
	logger.Info("  key-validator --response <path> --public-key <pem> [options]")
	logger.Info("")
	logger.Info("Required Flags:")
	logger.Info("  --response <path>                 Path to key_request response JSON file")
	logger.Info("  --public-key <path>               Path to public key PEM file")
	logger.Info("")
	logger.Info("Optional Flags:")
	logger.Info("  --pcrs <path>                     Known PCR sets (default: validation/pcrs.json)")
	logger.Info("  --format <text|json>              Output format (default: text)")
	logger.Info("  --help                            Show this help message")
	logger.Info("")
	logger.Info("Exit Codes:")
	logger.Info("  0 - Validation passed")
	logger.Info("  1 - Validation failed")
	logger.Info("  2 - Invalid input or runtime error")
}

func readKeyResult(path string) (*auctionapi.KeyResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var resp auctionapi.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	var keyResult auctionapi.KeyResult
	if err := resp.DecodeResult(&keyResult); err != nil {
		return nil, err
	}
	if keyResult.Attestation == "" {
		return nil, fmt.Errorf("missing attestation_cose_base64 field in key response")
	}
	return &keyResult, nil
}

func outputText(keyResult *auctionapi.KeyResult, result *validation.KeyValidationResult) {
	logger.Info("Enclave Signing Key Validator")
	logger.Info("=============================")
	logger.Info(fmt.Sprintf("Key ID: %s", keyResult.KeyID))
	logger.Info("")

	logger.Info("Summary:")
	logger.Info(fmt.Sprintf("  PCRs Valid:        %v", result.PCRsValid))
	logger.Info(fmt.Sprintf("  Certificate Valid: %v", result.CertificateValid))
	logger.Info(fmt.Sprintf("  Signature Valid:   %v", result.SignatureValid))
	logger.Info(fmt.Sprintf("  Public Key Match:  %v", result.PublicKeyMatch))
	logger.Info(fmt.Sprintf("  Key ID Match:      %v", result.KeyIDMatch))

	logger.Info("")
	logger.Info("=============================")
	if result.IsValid() {
		logger.Info("VALIDATION: ✓ PASSED")
	} else {
		logger.Info("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(result *validation.KeyValidationResult) error {
	output := map[string]any{
		"valid":             result.IsValid(),
		"pcrs_valid":        result.PCRsValid,
		"certificate_valid": result.CertificateValid,
		"signature_valid":   result.SignatureValid,
		"public_key_match":  result.PublicKeyMatch,
		"key_id_match":      result.KeyIDMatch,
		"details":           result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return err
	}
	logger.Info(string(data))
	return nil
}
