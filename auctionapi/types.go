package auctionapi

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/core"
)

// PCRs are the Nitro Enclave measurement registers, hex encoded.
type PCRs struct {
	// PCR0: enclave image file
	ImageFileHash string `json:"0"`

	// PCR1: kernel and initramfs
	KernelHash string `json:"1"`

	// PCR2: user applications
	ApplicationHash string `json:"2"`

	IAMRoleHash     string `json:"3"`
	InstanceIDHash  string `json:"4"`
	SigningCertHash string `json:"8,omitempty"`
}

// AttestationDoc is the decoded Nitro attestation document.
type AttestationDoc struct {
	ModuleID        string    `json:"module_id"`
	Timestamp       time.Time `json:"timestamp"`
	DigestAlgorithm string    `json:"digest"`
	PCRs            PCRs      `json:"pcrs"`
	Certificate     string    `json:"certificate"` // base64 DER
	CABundle        []string  `json:"cabundle"`    // base64 DER, root first
	PublicKey       string    `json:"public_key"`
	Nonce           string    `json:"nonce"`
}

// WinnerAttestationUserData is embedded in the attestation of an announced winner.
// WinnerHash binds auction, winner and amount to WinnerHashNonce; StateDigest is
// core.ComputeStateDigest of the ledger at announcement time.
type WinnerAttestationUserData struct {
	AuctionID       uuid.UUID `json:"auction_id"`
	Winner          string    `json:"winner,omitempty"`
	Amount          int64     `json:"amount"`
	EndTime         time.Time `json:"end_time"`
	WinnerHash      string    `json:"winner_hash"`
	WinnerHashNonce string    `json:"winner_hash_nonce"`
	StateDigest     string    `json:"state_digest"`
	ClientNonce     string    `json:"client_nonce,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type WinnerAttestationDoc struct {
	AttestationDoc
	UserData *WinnerAttestationUserData `json:"user_data"`
}

// KeyAttestationUserData publishes the transfer-signing key of an enclave so custody rails
// and auditors can pin it.
type KeyAttestationUserData struct {
	KeyAlgorithm string `json:"key_algorithm"` // "ECDSA-P256"
	KeyID        string `json:"key_id"`
	PublicKey    string `json:"public_key"` // PEM
}

type KeyAttestationDoc struct {
	AttestationDoc
	UserData *KeyAttestationUserData `json:"user_data"`
}

// Request types understood by the auction host.
const (
	TypePing                = "ping"
	TypeKeyRequest          = "key_request"
	TypeCreateAuction       = "create_auction"
	TypePlaceBid            = "place_bid"
	TypeClaimExcess         = "claim_excess"
	TypeListBids            = "list_bids"
	TypeTimeRemaining       = "time_remaining"
	TypeAnnounceWinner      = "announce_winner"
	TypeDistributeRefunds   = "distribute_refunds"
	TypeClaimDeposit        = "claim_deposit"
	TypeClaimProduct        = "claim_product"
	TypeWithdrawSellerFunds = "withdraw_seller_funds"
	TypeWithdrawCommission  = "withdraw_commission"
	TypeEmergencyWithdraw   = "emergency_withdraw"
	TypeParticipantInfo     = "participant_info"
	TypeListParticipants    = "list_participants"
	TypeStandings           = "standings"
	TypeSummary             = "summary"
	TypePendingTransfers    = "pending_transfers"
	TypeRetryTransfers      = "retry_transfers"
)

// Request is the single envelope for every host call. Which fields are read depends on Type.
type Request struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`

	AuctionID uuid.UUID `json:"auction_id,omitzero"`
	// Caller is the acting identity and the rate-limit key. It must come from a channel the
	// parent has already authenticated.
	Caller string `json:"caller,omitempty"`
	// Amount of place_bid is recorded as a deposit already held in escrow. The parent must
	// confirm the inbound payment on its rail before forwarding the bid.
	Amount int64 `json:"amount,omitempty"`

	// Participant is the subject of participant_info.
	Participant string `json:"participant,omitempty"`

	// Nonce is echoed into the winner attestation of announce_winner.
	Nonce string `json:"nonce,omitempty"`

	Auction *CreateAuctionRequest `json:"auction,omitempty"`
}

// CreateAuctionRequest carries core.Config in wire units. Zero optional fields use the
// engine defaults; a missing StartTime means now.
type CreateAuctionRequest struct {
	Seller                 string     `json:"seller"`
	Developer              string     `json:"developer"`
	StartTime              *time.Time `json:"start_time,omitempty"`
	DurationSeconds        int64      `json:"duration_seconds"`
	EntryBid               int64      `json:"entry_bid"`
	ExtensionWindowSeconds int64      `json:"extension_window_seconds,omitempty"`
	ExtensionAmountSeconds int64      `json:"extension_amount_seconds,omitempty"`
	IncrementBps           int64      `json:"increment_bps,omitempty"`
	CommissionBps          int64      `json:"commission_bps,omitempty"`
	GracePeriodSeconds     int64      `json:"grace_period_seconds,omitempty"`
}

// Config converts the request, taking now for a missing start time.
func (r CreateAuctionRequest) Config(now time.Time) core.Config {
	start := now
	if r.StartTime != nil {
		start = *r.StartTime
	}
	return core.Config{
		Seller:          r.Seller,
		Developer:       r.Developer,
		StartTime:       start,
		Duration:        time.Duration(r.DurationSeconds) * time.Second,
		EntryBid:        r.EntryBid,
		ExtensionWindow: time.Duration(r.ExtensionWindowSeconds) * time.Second,
		ExtensionAmount: time.Duration(r.ExtensionAmountSeconds) * time.Second,
		IncrementBps:    r.IncrementBps,
		CommissionBps:   r.CommissionBps,
		GracePeriod:     time.Duration(r.GracePeriodSeconds) * time.Second,
	}
}

// Response is the single reply envelope. Result holds the operation's JSON value.
type Response struct {
	Type           string          `json:"type"`
	Success        bool            `json:"success"`
	Message        string          `json:"message,omitempty"`
	Code           ErrorCode       `json:"code,omitempty"`
	AuctionID      uuid.UUID       `json:"auction_id,omitzero"`
	Result         json.RawMessage `json:"result,omitempty"`
	ProcessingTime int64           `json:"processing_time_ms"`
}

// NewResponse wraps a successful result.
func NewResponse(typ string, auctionID uuid.UUID, result any) (Response, error) {
	resp := Response{Type: typ, Success: true, AuctionID: auctionID}
	if result == nil {
		return resp, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode %s result: %w", typ, err)
	}
	resp.Result = data
	return resp, nil
}

// ErrorResponse builds a failed reply from err.
func ErrorResponse(typ string, auctionID uuid.UUID, err error) Response {
	return Response{
		Type:      typ,
		Success:   false,
		Message:   err.Error(),
		Code:      CodeFor(err),
		AuctionID: auctionID,
	}
}

// DecodeResult unmarshals Result into v.
func (r Response) DecodeResult(v any) error {
	if len(r.Result) == 0 {
		return fmt.Errorf("%s response carries no result", r.Type)
	}
	if err := json.Unmarshal(r.Result, v); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", r.Type, err)
	}
	return nil
}

// TimeRemainingResult is the result of time_remaining.
type TimeRemainingResult struct {
	Open             bool      `json:"open"`
	EndTime          time.Time `json:"end_time"`
	RemainingSeconds int64     `json:"remaining_seconds"`
}

// WinnerResult is the result of announce_winner. The attestation is only present when the
// host runs inside an enclave.
type WinnerResult struct {
	Announcement core.WinnerAnnouncement `json:"announcement"`
	Attestation  COSEBase64              `json:"attestation_cose_base64,omitempty"`
	NoticeLink   COSEGzip                `json:"notice_link,omitempty"`
}

// KeyResult is the result of key_request.
type KeyResult struct {
	KeyID       string     `json:"key_id"`
	PublicKey   string     `json:"public_key"`
	Attestation COSEBase64 `json:"attestation_cose_base64,omitempty"`
}

// ParticipantInfoResult is the result of participant_info. An unknown participant comes
// back with Registered false and zero balances.
type ParticipantInfoResult struct {
	core.Participant
	Registered bool  `json:"registered"`
	Excess     int64 `json:"excess"`
}

// PingResult is the result of ping.
type PingResult struct {
	Message   string    `json:"message"`
	KeyID     string    `json:"key_id"`
	Auctions  int       `json:"auctions"`
	Timestamp time.Time `json:"timestamp"`
}
