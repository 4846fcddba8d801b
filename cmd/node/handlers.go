package main

import (
	"repnode/internal/logger"
	"repnode/internal/messages"
	"repnode/internal/network"
	"repnode/internal/voting"
)

// routeMessage dispatches one wire message. peer is nil for messages
// delivered over the loopback channel.
func (n *Node) routeMessage(peer *network.Peer, data []byte) {
	msgType, err := messages.Type(data)
	if err != nil {
		logger.Debug("malformed message", "err", err)
		return
	}

	switch msgType {
	case messages.TypeConfirmReq:
		n.handleConfirmReq(peer, data)
	case messages.TypeConfirmAck:
		n.handleConfirmAck(peer, data)
	case messages.TypePublish:
		n.handlePublish(data)
	default:
		logger.Debug("unknown message type", "type", msgType)
	}
}

// handleConfirmReq feeds a vote request batch into the aggregator. The
// aggregator requires a voting representative, so requests are ignored
// while the wallet holds none.
func (n *Node) handleConfirmReq(peer *network.Peer, data []byte) {
	if peer == nil {
		return
	}

	requests, err := messages.DecodeConfirmReq(data)
	if err != nil {
		logger.Debug("malformed confirm req", "peer", peer.Address(), "err", err)
		return
	}

	if n.wallet.Reps().Voting == 0 {
		return
	}

	n.aggregator.Add(peer, requests)
}

// handleConfirmAck applies a received vote and marks the sending peer
// principal when the vote carries principal-level weight.
func (n *Node) handleConfirmAck(peer *network.Peer, data []byte) {
	vote, err := messages.DecodeConfirmAck(data)
	if err != nil {
		logger.Debug("malformed confirm ack", "err", err)
		return
	}

	if err := vote.Validate(); err != nil {
		logger.Debug("confirm ack rejected", "err", err)
		return
	}

	var channel voting.Channel
	if peer != nil {
		channel = peer

		if n.accountWeight(vote.Account) >= n.cfg.PRWeight {
			peer.SetPrincipal(true)
		}
	}

	n.processor.Vote(vote, channel)
}

// handlePublish stores a published block and opens its contest.
func (n *Node) handlePublish(data []byte) {
	block, err := messages.DecodePublish(data)
	if err != nil {
		logger.Debug("malformed publish", "err", err)
		return
	}

	if err := block.Validate(); err != nil {
		logger.Debug("publish rejected", "err", err)
		return
	}

	if err := n.SubmitBlock(block); err != nil {
		logger.Warn("block store failed", "err", err)
	}
}
