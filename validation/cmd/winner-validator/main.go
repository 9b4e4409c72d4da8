package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/validation"
)

func main() {
	var (
		responseInput = flag.String("response", "", "announce_winner response JSON (file path or inline JSON)")
		noticeLink    = flag.String("notice-link", "", "Gzipped attestation from a winner notice link")
		auctionID     = flag.String("auction-id", "", "Auction ID the attestation must cover (required)")
		winner        = flag.String("winner", "", "Expected winner; omit when no winner is expected")
		amount        = flag.Int64("amount", 0, "Expected winning amount")
		stateDigest   = flag.String("state-digest", "", "Expected ledger digest (optional)")
		nonce         = flag.String("nonce", "", "Client nonce sent with announce_winner (optional)")
		pcrConfig     = flag.String("pcrs", validation.DefaultPCRConfigPath(), "Known PCR sets JSON")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
		help          = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *auctionID == "" || (*responseInput == "") == (*noticeLink == "") {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --auction-id and exactly one of --response or --notice-link are required\n")
		os.Exit(1)
	}

	id, err := uuid.Parse(*auctionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing auction ID: %v\n", err)
		os.Exit(2)
	}

	input := &validation.WinnerValidationInput{
		NoticeLink:  auctionapi.COSEGzip(*noticeLink),
		AuctionID:   id,
		Winner:      *winner,
		Amount:      *amount,
		StateDigest: *stateDigest,
		ClientNonce: *nonce,
	}

	if *responseInput != "" {
		attestation, err := readWinnerAttestation(*responseInput)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
			os.Exit(2)
		}
		input.Attestation = attestation
	}

	policy, err := validation.PolicyFromFile(*pcrConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading PCR configuration: %v\n", err)
		os.Exit(2)
	}

	result, err := validation.ValidateWinnerAttestation(input, policy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation error: %v\n", err)
		os.Exit(2)
	}

	if *outputFormat == "json" {
		outputJSON(result)
	} else {
		outputText(result)
	}

	if !result.IsValid() {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Auction Winner Attestation Validator")
	fmt.Println()
	fmt.Println("Checks that an enclave attested the winner and amount you expect.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  winner-validator --auction-id <uuid> (--response <json> | --notice-link <gzip>) [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --auction-id <uuid>               Auction the attestation must cover")
	fmt.Println("  --response <json>                 announce_winner response (file path or inline JSON)")
	fmt.Println("  --notice-link <gzip>              or the attestation from a winner notice link")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --winner <id>                     Expected winner (omit for no winner)")
	fmt.Println("  --amount <n>                      Expected winning amount")
	fmt.Println("  --state-digest <hex>              Expected ledger digest")
	fmt.Println("  --nonce <s>                       Nonce sent with announce_winner")
	fmt.Println("  --pcrs <path>                     Known PCR sets (default: validation/pcrs.json)")
	fmt.Println("  --format <text|json>              Output format (default: text)")
	fmt.Println("  --help                            Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  winner-validator --response winner.json \\")
	fmt.Println("    --auction-id 0b7e7dd2-5d1c-4f7a-9a43-1f1d2c3b4a5e --winner alice --amount 1000")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Validation passed")
	fmt.Println("  1 - Validation failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readJSONInput(input string) []byte {
	if data, err := os.ReadFile(input); err == nil {
		return data
	}
	return []byte(input)
}

func readWinnerAttestation(input string) (auctionapi.COSEBase64, error) {
	var resp auctionapi.Response
	if err := json.Unmarshal(readJSONInput(input), &resp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if !resp.Success {
		return "", fmt.Errorf("response reports failure: %s", resp.Message)
	}

	var result auctionapi.WinnerResult
	if err := resp.DecodeResult(&result); err != nil {
		return "", err
	}
	if result.Attestation == "" {
		return "", fmt.Errorf("response carries no attestation; was the host running outside an enclave?")
	}
	return result.Attestation, nil
}

func outputText(result *validation.WinnerValidationResult) {
	fmt.Println("Auction Winner Attestation Validator")
	fmt.Println("====================================")
	fmt.Println()

	fmt.Println("Summary:")
	fmt.Printf("  PCRs Valid:              %v\n", result.PCRsValid)
	fmt.Printf("  Certificate Valid:       %v\n", result.CertificateValid)
	fmt.Printf("  Signature Valid:         %v\n", result.SignatureValid)
	fmt.Printf("  Auction Match:           %v\n", result.AuctionMatch)
	fmt.Printf("  Winner Match:            %v\n", result.WinnerMatch)
	fmt.Printf("  Amount Match:            %v\n", result.AmountMatch)
	fmt.Printf("  Winner Hash Valid:       %v\n", result.WinnerHashValid)
	fmt.Printf("  State Digest Valid:      %v\n", result.StateDigestValid)
	fmt.Printf("  Nonce Valid:             %v\n", result.NonceValid)

	fmt.Println()
	fmt.Println("Details:")
	for _, detail := range result.ValidationDetails {
		fmt.Printf("  - %s\n", detail)
	}

	fmt.Println()
	fmt.Println("====================================")
	if result.IsValid() {
		fmt.Println("VALIDATION: ✓ PASSED")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(result *validation.WinnerValidationResult) {
	output := map[string]any{
		"valid":              result.IsValid(),
		"pcrs_valid":         result.PCRsValid,
		"certificate_valid":  result.CertificateValid,
		"signature_valid":    result.SignatureValid,
		"auction_match":      result.AuctionMatch,
		"winner_match":       result.WinnerMatch,
		"amount_match":       result.AmountMatch,
		"winner_hash_valid":  result.WinnerHashValid,
		"state_digest_valid": result.StateDigestValid,
		"nonce_valid":        result.NonceValid,
		"details":            result.ValidationDetails,
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
