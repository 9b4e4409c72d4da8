package custody

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/validation"
)

// ErrRejected is returned by a rail that refuses an authorization.
var ErrRejected = errors.New("authorization rejected")

// Rail is the payment or ownership system that executes signed transfers. Submit must be
// idempotent per transfer ID.
type Rail interface {
	Submit(ctx context.Context, auth auctionapi.COSE) error
}

// RailFunc adapts a function to Rail.
type RailFunc func(ctx context.Context, auth auctionapi.COSE) error

func (f RailFunc) Submit(ctx context.Context, auth auctionapi.COSE) error { return f(ctx, auth) }

// Authorizer is the core.Custody the engine talks to. Each transfer is signed as a
// COSE_Sign1 message over its canonical CBOR form and handed to the rail.
type Authorizer struct {
	key    *SigningKey
	signer cose.Signer
	rail   Rail
}

var _ core.Custody = (*Authorizer)(nil)

func NewAuthorizer(key *SigningKey, rail Rail) (*Authorizer, error) {
	if key == nil || rail == nil {
		return nil, fmt.Errorf("authorizer needs a signing key and a rail")
	}
	signer, err := cose.NewSigner(validation.TransferAlgorithm, key.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	return &Authorizer{key: key, signer: signer, rail: rail}, nil
}

// Sign produces the authorization for t without submitting it.
func (a *Authorizer) Sign(t core.Transfer) (auctionapi.COSE, error) {
	payload, err := core.EncodeTransfer(t)
	if err != nil {
		return nil, err
	}

	msg := cose.NewSign1Message()
	msg.Headers.Protected[cose.HeaderLabelAlgorithm] = validation.TransferAlgorithm
	msg.Headers.Unprotected[cose.HeaderLabelKeyID] = []byte(a.key.KeyID)
	msg.Payload = payload
	if err := msg.Sign(rand.Reader, nil, a.signer); err != nil {
		return nil, fmt.Errorf("failed to sign transfer %s: %w", t.ID, err)
	}

	data, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode authorization for %s: %w", t.ID, err)
	}
	return auctionapi.COSE(data), nil
}

// Transfer signs t and submits it to the rail.
func (a *Authorizer) Transfer(ctx context.Context, t core.Transfer) error {
	auth, err := a.Sign(t)
	if err != nil {
		return err
	}
	if err := a.rail.Submit(ctx, auth); err != nil {
		return fmt.Errorf("rail refused %s %s: %w", t.Kind, t.ID, err)
	}
	return nil
}
