package parsing

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// coseSign1Tag is the CBOR tag go-cose writes in front of a COSE_Sign1 message. The NSM
// emits the same structure untagged.
const coseSign1Tag = 18

type sign1Message struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// ExtractCOSEPayload returns the payload of a COSE_Sign1 message, tagged or not, without
// checking its signature.
func ExtractCOSEPayload(coseBytes []byte) ([]byte, error) {
	data := coseBytes

	var tagged cbor.RawTag
	if err := cbor.Unmarshal(data, &tagged); err == nil {
		if tagged.Number != coseSign1Tag {
			return nil, fmt.Errorf("unexpected CBOR tag %d, want COSE_Sign1 (%d)", tagged.Number, coseSign1Tag)
		}
		data = tagged.Content
	}

	var msg sign1Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("COSE_Sign1 carries no payload")
	}
	return msg.Payload, nil
}
