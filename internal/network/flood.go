package network

import (
	"math"

	"repnode/internal/ledger"
	"repnode/internal/messages"
)

// minFanout is the floor for gossip fanout.
const minFanout = 2

// FloodVote gossips a vote to a random subset of peers. The fanout is
// the square root of the peer count scaled by mult, at least minFanout.
func (n *Node) FloodVote(vote *ledger.Vote, fanoutMult float64) {
	n.Gossip(messages.EncodeConfirmAck(vote), n.fanout(fanoutMult))
}

// FloodVotePR sends a vote to every peer marked as a principal
// representative.
func (n *Node) FloodVotePR(vote *ledger.Vote) {
	data := messages.EncodeConfirmAck(vote)

	for _, p := range n.Peers() {
		if p.Principal() {
			p.Send(data)
		}
	}
}

// FloodBlock gossips a block publish at the standard fanout.
func (n *Node) FloodBlock(block *ledger.Block) {
	n.Gossip(messages.EncodePublish(block), n.fanout(1.0))
}

// fanout computes the scaled gossip fanout from the current peer count.
func (n *Node) fanout(mult float64) int {
	f := int(math.Ceil(math.Sqrt(float64(n.PeerCount())) * mult))
	if f < minFanout {
		f = minFanout
	}

	return f
}
