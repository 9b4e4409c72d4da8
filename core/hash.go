package core

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ComputeWinnerHash computes the hash bound into an attested winner announcement.
// Validators recompute it from the announcement and the nonce they supplied.
//
// Formula: SHA256(auction_id + "|" + winner + "|" + amount + "|" + nonce)
func ComputeWinnerHash(auctionID uuid.UUID, winner string, amount int64, nonce string) string {
	data := fmt.Sprintf("%s|%s|%d|%s", auctionID, winner, amount, nonce)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputeStateDigest hashes the ledger-relevant fields of a state so two hosts can compare
// replicas without shipping the full snapshot.
//
// Formula: SHA256(id|highest_bidder|highest_bid|end_unix_nano|escrow|commission|seq
// followed by "|participant:deposited:counted:refund:product" for each participant in
// registration order)
func ComputeStateDigest(s State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%d|%d|%d|%d|%d",
		s.ID, s.HighestBidder, s.HighestBid, s.EndTime.UnixNano(), s.Escrow, s.CommissionAccumulator, s.EventSeq)
	for _, p := range s.Participants {
		fmt.Fprintf(&b, "|%s:%d:%d:%t:%t", p.ID, p.TotalDeposited, p.LastCountedBid, p.RefundClaimed, p.ProductClaimed)
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", hash)
}
