package core

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// snapshotVersion is bumped whenever State changes incompatibly.
const snapshotVersion = 1

type snapshotEnvelope struct {
	Version int    `cbor:"v"`
	Digest  string `cbor:"digest"`
	State   State  `cbor:"state"`
}

// Snapshots and transfer payloads share one canonical encoding.
var (
	snapshotEncMode cbor.EncMode
	snapshotDecMode cbor.DecMode
)

func init() {
	var err error
	snapshotEncMode, err = cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("core: cbor encoder: %v", err))
	}
	snapshotDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("core: cbor decoder: %v", err))
	}
}

// EncodeState serialises a snapshot as CBOR together with its state digest.
func EncodeState(s State) ([]byte, error) {
	data, err := snapshotEncMode.Marshal(snapshotEnvelope{
		Version: snapshotVersion,
		Digest:  ComputeStateDigest(s),
		State:   s,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode auction %s: %w", s.ID, err)
	}
	return data, nil
}

// DecodeState parses data written by EncodeState and checks the embedded digest.
func DecodeState(data []byte) (State, error) {
	var env snapshotEnvelope
	if err := snapshotDecMode.Unmarshal(data, &env); err != nil {
		return State{}, fmt.Errorf("failed to decode auction snapshot: %w", err)
	}
	if env.Version != snapshotVersion {
		return State{}, fmt.Errorf("unsupported snapshot version %d", env.Version)
	}
	if digest := ComputeStateDigest(env.State); digest != env.Digest {
		return State{}, fmt.Errorf("%w: snapshot digest mismatch for auction %s", ErrInvariantBroken, env.State.ID)
	}
	return env.State, nil
}

// EncodeTransfer returns the canonical CBOR form of t, the payload of a signed authorization.
func EncodeTransfer(t Transfer) ([]byte, error) {
	data, err := snapshotEncMode.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer %s: %w", t.ID, err)
	}
	return data, nil
}

// DecodeTransfer parses a payload written by EncodeTransfer.
func DecodeTransfer(data []byte) (Transfer, error) {
	var t Transfer
	if err := snapshotDecMode.Unmarshal(data, &t); err != nil {
		return Transfer{}, fmt.Errorf("failed to decode transfer: %w", err)
	}
	if t.ID == uuid.Nil || t.AuctionID == uuid.Nil {
		return Transfer{}, fmt.Errorf("transfer payload is missing its ids")
	}
	return t, nil
}
