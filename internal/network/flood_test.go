package network

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"sync/atomic"
	"testing"
	"time"

	"repnode/internal/ledger"
	"repnode/internal/messages"
)

// makeTestVote signs a vote over a single hash with a fresh key.
func makeTestVote(t *testing.T) *ledger.Vote {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var account ledger.Account
	copy(account[:], pub)

	vote, err := ledger.NewVote(account, priv, 1, []ledger.Hash{{0x01}})
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}

	return vote
}

// TestLoopbackDelivery tests that loopback sends reach the handler.
func TestLoopbackDelivery(t *testing.T) {
	var received []byte

	lb := NewLoopback("local", func(data []byte) {
		received = data
	})

	if lb.Endpoint() != "local" {
		t.Errorf("endpoint: got %q, want %q", lb.Endpoint(), "local")
	}

	msg := []byte("self delivered")
	if err := lb.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	if !bytes.Equal(received, msg) {
		t.Errorf("handler payload mismatch: got %q, want %q", received, msg)
	}
}

// TestFanoutMinimum tests that fanout never drops below the floor.
func TestFanoutMinimum(t *testing.T) {
	node, err := NewNode(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	defer node.Close()

	if f := node.fanout(1.0); f != minFanout {
		t.Errorf("fanout with no peers: got %d, want %d", f, minFanout)
	}

	if f := node.fanout(0.0); f != minFanout {
		t.Errorf("fanout with zero mult: got %d, want %d", f, minFanout)
	}
}

// TestFloodVotePRPrincipalOnly tests that principal flooding skips
// non-principal peers.
func TestFloodVotePRPrincipalOnly(t *testing.T) {
	sender, err := NewNode(Config{
		PrivateKey: generateTestKey(t),
		ListenAddr: "127.0.0.1:0",
	})
	if err != nil {
		t.Fatalf("create sender: %v", err)
	}

	if err := sender.Start(); err != nil {
		t.Fatalf("start sender: %v", err)
	}
	defer sender.Close()

	var principalCount, plainCount atomic.Int32

	newReceiver := func(counter *atomic.Int32) *Node {
		receiver, err := NewNode(Config{
			PrivateKey: generateTestKey(t),
			ListenAddr: "127.0.0.1:0",
		})
		if err != nil {
			t.Fatalf("create receiver: %v", err)
		}

		if err := receiver.Start(); err != nil {
			t.Fatalf("start receiver: %v", err)
		}

		t.Cleanup(func() { receiver.Close() })

		receiver.OnMessage(func(p *Peer, data []byte) {
			if kind, err := messages.Type(data); err == nil && kind == messages.TypeConfirmAck {
				counter.Add(1)
			}
		})

		return receiver
	}

	principal := newReceiver(&principalCount)
	plain := newReceiver(&plainCount)

	// Connect sender to both receivers and mark only one principal.
	peer1, err := sender.Connect(principal.Addr())
	if err != nil {
		t.Fatalf("connect principal: %v", err)
	}
	peer1.SetPrincipal(true)

	if _, err := sender.Connect(plain.Addr()); err != nil {
		t.Fatalf("connect plain: %v", err)
	}

	if !bytes.Equal(peer1.PublicKey(), principal.PublicKey()) {
		t.Fatal("principal peer key mismatch")
	}

	sender.FloodVotePR(makeTestVote(t))

	time.Sleep(200 * time.Millisecond)

	if principalCount.Load() != 1 {
		t.Errorf("principal received: got %d, want 1", principalCount.Load())
	}

	if plainCount.Load() != 0 {
		t.Errorf("plain received: got %d, want 0", plainCount.Load())
	}
}
