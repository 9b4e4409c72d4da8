package core

import "sort"

// Standing is one participant's position in the bid table.
type Standing struct {
	Rank           int    `json:"rank"`
	Participant    string `json:"participant"`
	LastCountedBid int64  `json:"last_counted_bid"`
	TotalDeposited int64  `json:"total_deposited"`
	Leading        bool   `json:"leading"`
}

// RankParticipants orders participants by standing bid, highest first. Equal bids keep
// registration order, so the earlier bidder ranks higher. Participants with nothing
// counted (outbid and withdrawn) are listed last.
func RankParticipants(participants []Participant, leader string) []Standing {
	ordered := make([]Participant, len(participants))
	copy(ordered, participants)

	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].LastCountedBid > ordered[j].LastCountedBid
	})

	standings := make([]Standing, 0, len(ordered))
	for rank, p := range ordered {
		standings = append(standings, Standing{
			Rank:           rank + 1,
			Participant:    p.ID,
			LastCountedBid: p.LastCountedBid,
			TotalDeposited: p.TotalDeposited,
			Leading:        p.ID == leader,
		})
	}
	return standings
}

// Standings returns the current ranking of all participants.
func (a *Auction) Standings() []Standing {
	a.mu.Lock()
	defer a.mu.Unlock()
	return RankParticipants(a.state.Participants, a.state.HighestBidder)
}
