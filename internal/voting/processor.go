package voting

import (
	"repnode/internal/ledger"
	"repnode/internal/logger"
)

// Tallier accumulates vote weight on active contests.
type Tallier interface {
	Vote(vote *ledger.Vote)
}

// VoteProcessor validates incoming votes and applies them to the
// election tally. Both network-received and self-delivered votes pass
// through it.
type VoteProcessor struct {
	elections Tallier // elections receives every valid vote
}

// NewVoteProcessor creates a vote processor over the election tally.
func NewVoteProcessor(elections Tallier) *VoteProcessor {
	return &VoteProcessor{elections: elections}
}

// Vote checks the vote's signature and applies it to the tally. Votes
// with a bad signature are dropped.
func (p *VoteProcessor) Vote(vote *ledger.Vote, channel Channel) {
	if err := vote.Validate(); err != nil {
		endpoint := "local"
		if channel != nil {
			endpoint = channel.Endpoint()
		}
		logger.Warn("vote rejected", "account", vote.Account, "endpoint", endpoint, "err", err)
		return
	}

	p.elections.Vote(vote)
}
