package validation

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/cloudx-io/sealedauction/auctionapi"
)

// DefaultPCRConfigPath returns the path of the pcrs.json shipped next to this package.
func DefaultPCRConfigPath() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "pcrs.json")
}

// LoadPCRsFromFile loads known PCR sets from a JSON file
func LoadPCRsFromFile(path string) ([]PCRSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCR config file: %w", err)
	}

	var config PCRConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse PCR config: %w", err)
	}

	if len(config.PCRSets) == 0 {
		return nil, fmt.Errorf("no PCR sets found in config file")
	}

	return config.PCRSets, nil
}

// ValidatePCRs checks if PCRs match any known valid set.
// Returns the index of the matching set, or -1.
func ValidatePCRs(pcrs auctionapi.PCRs, knownSets []PCRSet) (bool, int) {
	for i, knownSet := range knownSets {
		if pcrs.ImageFileHash == knownSet.PCR0 &&
			pcrs.KernelHash == knownSet.PCR1 &&
			pcrs.ApplicationHash == knownSet.PCR2 {
			return true, i
		}
	}
	return false, -1
}

// Policy is what an attestation is checked against.
type Policy struct {
	PCRSets []PCRSet
	// Roots overrides the AWS Nitro root CA. Nil means the Nitro root.
	Roots *x509.CertPool
}

// DefaultPolicy trusts the Nitro root and the PCR sets in DefaultPCRConfigPath.
func DefaultPolicy() (Policy, error) {
	return PolicyFromFile(DefaultPCRConfigPath())
}

func PolicyFromFile(path string) (Policy, error) {
	sets, err := LoadPCRsFromFile(path)
	if err != nil {
		return Policy{}, err
	}
	return Policy{PCRSets: sets}, nil
}
