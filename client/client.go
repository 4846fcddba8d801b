// Package client is a small HTTP client for a node's API: status
// queries and block submission.
package client

import (
	"fmt"

	"repnode/internal/ledger"
)

// Client connects to a node via HTTP.
type Client struct {
	nodeAddr string // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
}

// Status holds a node's vote-core state summary.
type Status struct {
	HistorySize  int    `json:"historySize"`  // HistorySize is the number of cached votes
	Pools        int    `json:"pools"`        // Pools is the number of pending request pools
	Peers        int    `json:"peers"`        // Peers is the number of connected peers
	Reservations int    `json:"reservations"` // Reservations is the number of live vote reservations
	VotingReps   uint64 `json:"votingReps"`   // VotingReps is the number of voting representatives
}

// NewClient creates a client for the node at the given HTTP address.
func NewClient(nodeAddr string) *Client {
	return &Client{nodeAddr: nodeAddr}
}

// Status fetches the node's status summary.
func (c *Client) Status() (Status, error) {
	var status Status

	if err := httpGet("http://"+c.nodeAddr+"/status", &status); err != nil {
		return Status{}, fmt.Errorf("get status:\n%w", err)
	}

	return status, nil
}

// Health checks the node's health endpoint.
func (c *Client) Health() error {
	var health struct {
		Status string `json:"status"`
	}

	if err := httpGet("http://"+c.nodeAddr+"/health", &health); err != nil {
		return err
	}

	if health.Status != "ok" {
		return fmt.Errorf("unhealthy: %q", health.Status)
	}

	return nil
}

// SubmitBlock sends a signed block to the node and returns the hash the
// node stored it under.
func (c *Client) SubmitBlock(block *ledger.Block) (ledger.Hash, error) {
	var result struct {
		Hash string `json:"hash"`
	}

	if err := httpPost("http://"+c.nodeAddr+"/block", block.Serialize(), &result); err != nil {
		return ledger.Hash{}, fmt.Errorf("submit block:\n%w", err)
	}

	hash, err := ledger.HashFromHex(result.Hash)
	if err != nil {
		return ledger.Hash{}, fmt.Errorf("parse block hash:\n%w", err)
	}

	return hash, nil
}
