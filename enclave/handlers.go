package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cloudx-io/sealedauction/auctionapi"
	"github.com/cloudx-io/sealedauction/core"
)

// auctionScoped maps each per-auction request type to whether it mutates. Mutating
// requests are followed by a snapshot save even when they fail, since a failed transfer
// still commits the ledger change behind it.
var auctionScoped = map[string]bool{
	auctionapi.TypeListBids:            false,
	auctionapi.TypeTimeRemaining:       false,
	auctionapi.TypeParticipantInfo:     false,
	auctionapi.TypeListParticipants:    false,
	auctionapi.TypeStandings:           false,
	auctionapi.TypeSummary:             false,
	auctionapi.TypePendingTransfers:    false,
	auctionapi.TypePlaceBid:            true,
	auctionapi.TypeClaimExcess:         true,
	auctionapi.TypeAnnounceWinner:      true,
	auctionapi.TypeDistributeRefunds:   true,
	auctionapi.TypeClaimDeposit:        true,
	auctionapi.TypeClaimProduct:        true,
	auctionapi.TypeWithdrawSellerFunds: true,
	auctionapi.TypeWithdrawCommission:  true,
	auctionapi.TypeEmergencyWithdraw:   true,
	auctionapi.TypeRetryTransfers:      true,
}

// orNil keeps typed nil pointers out of responses.
func orNil[T any](v *T) any {
	if v == nil {
		return nil
	}
	return v
}

func (s *EnclaveServer) dispatch(ctx context.Context, req auctionapi.Request, now time.Time) (any, error) {
	switch req.Type {
	case auctionapi.TypePing:
		return auctionapi.PingResult{
			Message:   "auction host is healthy",
			KeyID:     s.signingKey.KeyID,
			Auctions:  len(s.registry.List()),
			Timestamp: now.UTC(),
		}, nil
	case auctionapi.TypeKeyRequest:
		return s.handleKeyRequest()
	case auctionapi.TypeCreateAuction:
		return s.handleCreateAuction(ctx, req, now)
	}

	mutates, ok := auctionScoped[req.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown request type %q", auctionapi.ErrBadRequest, req.Type)
	}
	a, err := s.registry.Get(req.AuctionID)
	if err != nil {
		return nil, err
	}
	if mutates {
		defer s.persist(ctx, a)
	}

	switch req.Type {
	case auctionapi.TypePlaceBid:
		result, err := a.PlaceBid(req.Caller, req.Amount, now)
		return orNil(result), err

	case auctionapi.TypeClaimExcess:
		payout, err := a.ClaimExcess(ctx, req.Caller, now)
		return orNil(payout), err

	case auctionapi.TypeListBids:
		bids, err := a.ListBids(now)
		if err != nil {
			return nil, err
		}
		return bids, nil

	case auctionapi.TypeTimeRemaining:
		return auctionapi.TimeRemainingResult{
			Open:             a.IsOpen(now),
			EndTime:          a.EndTime(),
			RemainingSeconds: int64(a.TimeRemaining(now) / time.Second),
		}, nil

	case auctionapi.TypeAnnounceWinner:
		return s.handleAnnounceWinner(a, req, now)

	case auctionapi.TypeDistributeRefunds:
		report, err := a.DistributeRefunds(ctx, req.Caller, now)
		return orNil(report), err

	case auctionapi.TypeClaimDeposit:
		payout, err := a.ClaimDeposit(ctx, req.Caller, now)
		return orNil(payout), err

	case auctionapi.TypeClaimProduct:
		payout, err := a.ClaimProduct(ctx, req.Caller, now)
		return orNil(payout), err

	case auctionapi.TypeWithdrawSellerFunds:
		payout, err := a.WithdrawSellerFunds(ctx, req.Caller, now)
		return orNil(payout), err

	case auctionapi.TypeWithdrawCommission:
		payout, err := a.WithdrawCommission(ctx, req.Caller, now)
		return orNil(payout), err

	case auctionapi.TypeEmergencyWithdraw:
		payout, err := a.EmergencyWithdraw(ctx, req.Caller, now)
		return orNil(payout), err

	case auctionapi.TypeParticipantInfo:
		p, ok := a.ParticipantInfo(req.Participant)
		if !ok {
			p.ID = req.Participant
		}
		return auctionapi.ParticipantInfoResult{Participant: p, Registered: ok, Excess: p.Excess()}, nil

	case auctionapi.TypeListParticipants:
		return a.ParticipantIDs(), nil

	case auctionapi.TypeStandings:
		return a.Standings(), nil

	case auctionapi.TypeSummary:
		return a.Summarize(now), nil

	case auctionapi.TypePendingTransfers:
		return a.PendingTransfers(), nil

	case auctionapi.TypeRetryTransfers:
		report, err := a.RetryPendingTransfers(ctx, now)
		return orNil(report), err

	}
	return nil, fmt.Errorf("%w: unhandled request type %q", auctionapi.ErrBadRequest, req.Type)
}

func (s *EnclaveServer) handleCreateAuction(ctx context.Context, req auctionapi.Request, now time.Time) (any, error) {
	if req.Auction == nil {
		return nil, fmt.Errorf("%w: create_auction needs an auction body", auctionapi.ErrBadRequest)
	}
	cfg := req.Auction.Config(now)
	cfg.ID = req.AuctionID

	a, err := s.registry.Create(cfg)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, a)
	s.metrics.auctions.Set(float64(len(s.registry.List())))

	log.Info().
		Str("auction", a.ID().String()).
		Str("seller", cfg.Seller).
		Time("end_time", a.EndTime()).
		Msg("Auction created")
	return a.Summarize(now), nil
}

// handleAnnounceWinner attests the result when running inside an enclave. The
// announcement is committed before attesting, so an attestation failure still returns it.
func (s *EnclaveServer) handleAnnounceWinner(a *core.Auction, req auctionapi.Request, now time.Time) (any, error) {
	ann, err := a.AnnounceWinner(req.Caller, now)
	if err != nil {
		return nil, err
	}
	result := auctionapi.WinnerResult{Announcement: *ann}
	if s.attester == nil {
		return result, nil
	}

	attestation, err := GenerateWinnerAttestation(s.attester, *ann, a.Snapshot(), req.Nonce)
	if err != nil {
		return result, fmt.Errorf("winner announced but not attested: %w", err)
	}
	result.Attestation = attestation.EncodeBase64()
	if result.NoticeLink, err = attestation.CompressGzip(); err != nil {
		return result, fmt.Errorf("failed to compress winner attestation: %w", err)
	}
	return result, nil
}

// handleKeyRequest publishes the transfer-signing key, attested when possible.
func (s *EnclaveServer) handleKeyRequest() (any, error) {
	publicKeyPEM, err := s.signingKey.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}
	result := auctionapi.KeyResult{KeyID: s.signingKey.KeyID, PublicKey: publicKeyPEM}
	if s.attester == nil {
		return result, nil
	}

	attestation, err := GenerateKeyAttestation(s.attester, s.signingKey)
	if err != nil {
		return nil, err
	}
	result.Attestation = attestation.EncodeBase64()
	return result, nil
}
