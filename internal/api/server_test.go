package api

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"repnode/internal/ledger"
)

// fakeSubmitter records submitted blocks.
type fakeSubmitter struct {
	blocks []*ledger.Block
	err    error
}

func (f *fakeSubmitter) SubmitBlock(block *ledger.Block) error {
	if f.err != nil {
		return f.err
	}

	f.blocks = append(f.blocks, block)

	return nil
}

// fakeBlockFlooder records gossiped blocks.
type fakeBlockFlooder struct {
	blocks []*ledger.Block
}

func (f *fakeBlockFlooder) FloodBlock(block *ledger.Block) {
	f.blocks = append(f.blocks, block)
}

// fakeStatus returns fixed vote-core state.
type fakeStatus struct{}

func (fakeStatus) HistorySize() int      { return 5 }
func (fakeStatus) PoolCount() int        { return 2 }
func (fakeStatus) PeerCount() int        { return 3 }
func (fakeStatus) ReservationCount() int { return 7 }
func (fakeStatus) VotingReps() uint64    { return 1 }

// signedTestBlock builds and signs a block with a fresh key.
func signedTestBlock(t *testing.T) *ledger.Block {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var account ledger.Account
	copy(account[:], pub)

	block := &ledger.Block{
		Account:        account,
		Representative: account,
		Balance:        100,
	}
	block.Sign(priv)

	return block
}

// TestSubmitBlockAccepted tests the happy submission path.
func TestSubmitBlockAccepted(t *testing.T) {
	submitter := &fakeSubmitter{}
	flooder := &fakeBlockFlooder{}
	s := New("127.0.0.1:0", submitter, flooder, fakeStatus{}, nil)

	block := signedTestBlock(t)

	req := httptest.NewRequest(http.MethodPost, "/block", bytes.NewReader(block.Serialize()))
	rec := httptest.NewRecorder()

	s.handleSubmitBlock(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusAccepted)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp["hash"] != block.Hash().String() {
		t.Errorf("hash: got %s, want %s", resp["hash"], block.Hash())
	}

	if len(submitter.blocks) != 1 {
		t.Errorf("submitted blocks: got %d, want 1", len(submitter.blocks))
	}

	if len(flooder.blocks) != 1 {
		t.Errorf("gossiped blocks: got %d, want 1", len(flooder.blocks))
	}
}

// TestSubmitBlockRejectsBadSignature tests the signature guard.
func TestSubmitBlockRejectsBadSignature(t *testing.T) {
	submitter := &fakeSubmitter{}
	s := New("127.0.0.1:0", submitter, nil, fakeStatus{}, nil)

	block := signedTestBlock(t)
	block.Balance++

	req := httptest.NewRequest(http.MethodPost, "/block", bytes.NewReader(block.Serialize()))
	rec := httptest.NewRecorder()

	s.handleSubmitBlock(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}

	if len(submitter.blocks) != 0 {
		t.Error("tampered block should not be submitted")
	}
}

// TestSubmitBlockRejectsGarbage tests the decode guard.
func TestSubmitBlockRejectsGarbage(t *testing.T) {
	s := New("127.0.0.1:0", &fakeSubmitter{}, nil, fakeStatus{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/block", bytes.NewReader([]byte("not a block")))
	rec := httptest.NewRecorder()

	s.handleSubmitBlock(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

// TestSubmitBlockStoreError tests the submitter error path.
func TestSubmitBlockStoreError(t *testing.T) {
	submitter := &fakeSubmitter{err: fmt.Errorf("disk full")}
	flooder := &fakeBlockFlooder{}
	s := New("127.0.0.1:0", submitter, flooder, fakeStatus{}, nil)

	block := signedTestBlock(t)

	req := httptest.NewRequest(http.MethodPost, "/block", bytes.NewReader(block.Serialize()))
	rec := httptest.NewRecorder()

	s.handleSubmitBlock(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	if len(flooder.blocks) != 0 {
		t.Error("unstored block should not be gossiped")
	}
}

// TestHealth tests the health endpoint.
func TestHealth(t *testing.T) {
	s := New("127.0.0.1:0", &fakeSubmitter{}, nil, fakeStatus{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("status field: got %q, want %q", resp["status"], "ok")
	}
}

// TestStatus tests the status summary fields.
func TestStatus(t *testing.T) {
	s := New("127.0.0.1:0", &fakeSubmitter{}, nil, fakeStatus{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.handleStatus(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}

	var resp map[string]float64
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	want := map[string]float64{
		"historySize":  5,
		"pools":        2,
		"peers":        3,
		"reservations": 7,
		"votingReps":   1,
	}

	for field, value := range want {
		if resp[field] != value {
			t.Errorf("%s: got %v, want %v", field, resp[field], value)
		}
	}
}

// TestStatusUnavailable tests the nil provider path.
func TestStatusUnavailable(t *testing.T) {
	s := New("127.0.0.1:0", &fakeSubmitter{}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	s.handleStatus(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
