package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/validation"
)

func main() {
	var (
		authInput     = flag.String("authorization", "", "Base64 transfer authorization, or a file holding it (required)")
		publicKeyPath = flag.String("public-key", "", "Path to the pinned signing key PEM (required)")
		outputFormat  = flag.String("format", "text", "Output format: text or json")
	)
	flag.Parse()

	if *authInput == "" || *publicKeyPath == "" {
		fmt.Println("Usage: transfer-validator --authorization <base64|path> --public-key <pem> [--format text|json]")
		fmt.Println()
		fmt.Println("Verifies a signed transfer authorization and prints the transfer it carries.")
		fmt.Println("Exit codes: 0 verified, 1 rejected, 2 invalid input")
		os.Exit(1)
	}

	raw := *authInput
	if data, err := os.ReadFile(raw); err == nil {
		raw = string(data)
	}
	auth, err := auctionapi.COSEBase64(strings.TrimSpace(raw)).Decode()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding authorization: %v\n", err)
		os.Exit(2)
	}

	pemData, err := os.ReadFile(*publicKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}
	publicKey, err := validation.ParsePublicKeyPEM(string(pemData))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing public key: %v\n", err)
		os.Exit(2)
	}

	verified, err := validation.VerifyTransferAuthorization(auth, publicKey)
	if err != nil {
		fmt.Printf("REJECTED: %v\n", err)
		os.Exit(1)
	}

	if *outputFormat == "json" {
		data, err := json.MarshalIndent(verified, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
			os.Exit(2)
		}
		fmt.Println(string(data))
		return
	}

	t := verified.Transfer
	fmt.Println("VERIFIED")
	fmt.Printf("  Key ID:      %s\n", verified.KeyID)
	fmt.Printf("  Transfer:    %s\n", t.ID)
	fmt.Printf("  Auction:     %s\n", t.AuctionID)
	fmt.Printf("  Kind:        %s\n", t.Kind)
	fmt.Printf("  From -> To:  %s -> %s\n", t.From, t.To)
	fmt.Printf("  Amount:      %d\n", t.Amount)
	fmt.Printf("  Authorized:  %s\n", t.AuthorizedAt.Format("2006-01-02T15:04:05.000Z07:00"))
}
