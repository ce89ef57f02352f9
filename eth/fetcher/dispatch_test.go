// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package fetcher

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
)

func acceptingTrySend(ch chan FetchResult) TrySend {
	return func(PeerID, []common.Hash) (<-chan FetchResult, error) {
		return ch, nil
	}
}

// TestPerPeerConcurrencyCap is boundary scenario 2: two back-to-back
// dispatches to the same peer. The first succeeds, the second returns its
// hashes as surplus, and active_peers[peer] stays at 1 throughout.
func TestPerPeerConcurrencyCap(t *testing.T) {
	f := newTestFetcher()
	t.Cleanup(func() { f.Close() })

	peer := PeerID("A")
	h1, h2 := common.Hash{0x01}, common.Hash{0x02}
	ch := make(chan FetchResult, 1)

	surplus, err := f.Dispatch(peer, []common.Hash{h1}, acceptingTrySend(ch))
	if err != nil || surplus != nil {
		t.Fatalf("first dispatch should be accepted, got surplus=%v err=%v", surplus, err)
	}
	if n, _ := f.activePeers.Peek(peer); n != 1 {
		t.Fatalf("active_peers[peer] = %d, want 1", n)
	}

	surplus, err = f.Dispatch(peer, []common.Hash{h2}, acceptingTrySend(ch))
	if !errors.Is(err, ErrPeerBusy) {
		t.Fatalf("second dispatch should be rejected with ErrPeerBusy, got %v", err)
	}
	if len(surplus) != 1 || surplus[0] != h2 {
		t.Fatalf("second dispatch should return its hashes as surplus, got %v", surplus)
	}
	if n, _ := f.activePeers.Peek(peer); n != 1 {
		t.Fatalf("active_peers[peer] = %d, want 1 (unchanged)", n)
	}
}

// TestRetryBound is boundary scenario 3: a hash buffered-and-retried three
// times in a row (empty responses) is dropped on the third attempt.
func TestRetryBound(t *testing.T) {
	f := newTestFetcher()
	h := common.Hash{0x01}
	f.insertUnknown(h)

	f.bufferHashesForRetry([]common.Hash{h})
	if f.unknownHashes[h].retries != 1 {
		t.Fatalf("after attempt 1, retries = %d, want 1", f.unknownHashes[h].retries)
	}
	if !f.bufferedHashes.Contains(h) {
		t.Fatalf("h should be buffered after attempt 1")
	}

	f.bufferedHashes.Remove(h) // simulate re-dispatch pulling h out of the buffer
	f.bufferHashesForRetry([]common.Hash{h})
	if f.unknownHashes[h].retries != 2 {
		t.Fatalf("after attempt 2, retries = %d, want 2", f.unknownHashes[h].retries)
	}

	f.bufferedHashes.Remove(h)
	f.bufferHashesForRetry([]common.Hash{h})
	if _, ok := f.unknownHashes[h]; ok {
		t.Fatalf("h should be dropped after exhausting retries")
	}
	if f.bufferedHashes.Contains(h) {
		t.Fatalf("h should not be buffered after being dropped")
	}
	if f.isEth68(h) {
		t.Fatalf("h should not have eth68 metadata after being dropped")
	}
}

// TestBroadcastPreemptsInflight is boundary scenario 4: a broadcast arrives
// for a hash that is currently inflight; the later (empty) completion for
// that request must not resurrect the hash.
func TestBroadcastPreemptsInflight(t *testing.T) {
	f := newTestFetcher()
	t.Cleanup(func() { f.Close() })

	peer := PeerID("A")
	h := common.Hash{0x01}
	f.insertUnknown(h)

	ch := make(chan FetchResult, 1)
	surplus, err := f.Dispatch(peer, []common.Hash{h}, acceptingTrySend(ch))
	if err != nil || surplus != nil {
		t.Fatalf("dispatch should be accepted, got surplus=%v err=%v", surplus, err)
	}

	f.OnReceivedFullTransactionsBroadcast([]common.Hash{h})
	if _, ok := f.unknownHashes[h]; ok {
		t.Fatalf("h should be gone from unknownHashes immediately after broadcast")
	}

	// A's response now resolves with nothing (h wasn't actually delivered
	// by A; it was superseded by the broadcast).
	f.handleCompletion(&inflightOutcome{id: 0, result: FetchResult{}})

	if _, ok := f.unknownHashes[h]; ok {
		t.Fatalf("h should still be gone from unknownHashes after completion")
	}
	if f.bufferedHashes.Contains(h) {
		t.Fatalf("h should not have been re-buffered; it is no longer tracked")
	}
}

// TestFallbackPromotion is boundary scenario 5: an Eth68 hash announced to
// A (inflight) and then to B (fallback); A fails, B is later promoted out
// of the buffer via augmentation.
func TestFallbackPromotion(t *testing.T) {
	f := newTestFetcher()
	t.Cleanup(func() { f.Close() })

	peerA, peerB := PeerID("A"), PeerID("B")
	h := common.Hash{0x01}
	f.insertUnknown(h)
	f.eth68Meta[h] = 100

	ch := make(chan FetchResult, 1)
	surplus, err := f.Dispatch(peerA, []common.Hash{h}, acceptingTrySend(ch))
	if err != nil || surplus != nil {
		t.Fatalf("dispatch to A should be accepted, got surplus=%v err=%v", surplus, err)
	}

	retained := f.FilterUnseenAndPending(peerB, []common.Hash{h}, []uint64{100}, func(PeerID) bool { return true })
	if len(retained) != 0 {
		t.Fatalf("B's announcement of an inflight hash should retain nothing, got %v", retained)
	}
	state := f.unknownHashes[h]
	if !state.fallback.Contains(peerB) {
		t.Fatalf("B should be registered as a fallback peer")
	}

	// A fails.
	f.handleCompletion(&inflightOutcome{id: 0, err: ErrChannelClosed})
	if state.retries != 1 {
		t.Fatalf("retries = %d, want 1", state.retries)
	}
	if !f.bufferedHashes.Contains(h) {
		t.Fatalf("h should be buffered after A's failure")
	}

	hashes, acc := f.FillEth68RequestForPeer(peerB, nil, 0)
	if len(hashes) != 1 || hashes[0] != h {
		t.Fatalf("augmentation should pull h into B's request, got %v", hashes)
	}
	if acc != 100 {
		t.Fatalf("acc = %d, want 100", acc)
	}
	if f.bufferedHashes.Contains(h) {
		t.Fatalf("h should be removed from bufferedHashes once promoted")
	}
	if state.fallback.Contains(peerB) {
		t.Fatalf("B should be removed from fallback_peers once promoted")
	}
}

// TestGetIdlePeerForPrunesDeadPeers exercises spec §4.7: a dead fallback
// peer is reported via endedSessions and skipped in favor of a live one.
func TestGetIdlePeerForPrunesDeadPeers(t *testing.T) {
	f := newTestFetcher()
	h := common.Hash{0x01}
	state := f.insertUnknown(h)
	state.fallback.Add(PeerID("dead"), struct{}{})
	state.fallback.Add(PeerID("alive"), struct{}{})

	active := map[PeerID]bool{"alive": true}
	var ended []PeerID
	peer, ok := f.GetIdlePeerFor(h, &ended, func(p PeerID) bool { return active[p] })
	if !ok || peer != "alive" {
		t.Fatalf("expected 'alive', got %q ok=%v", peer, ok)
	}
	if len(ended) != 1 || ended[0] != "dead" {
		t.Fatalf("expected dead peer reported, got %v", ended)
	}
}

func TestDispatchRejectsWhenPeerSlotsExhausted(t *testing.T) {
	cfg := DefaultConfig
	cfg.MaxConcurrentRequests = 1
	f := NewTxFetcherForTests(cfg, mclock.System{})
	t.Cleanup(func() { f.Close() })

	ch := make(chan FetchResult, 1)
	_, err := f.Dispatch(PeerID("A"), []common.Hash{{0x01}}, acceptingTrySend(ch))
	if err != nil {
		t.Fatalf("first peer should be accepted: %v", err)
	}

	surplus, err := f.Dispatch(PeerID("B"), []common.Hash{{0x02}}, acceptingTrySend(ch))
	if !errors.Is(err, ErrTooManyPeers) {
		t.Fatalf("expected ErrTooManyPeers, got %v", err)
	}
	if len(surplus) != 1 {
		t.Fatalf("expected surplus of 1 hash, got %v", surplus)
	}
}
