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
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// inflightOutcome is what a relay goroutine posts to the fetcher's
// completion channel once the caller's one-shot response port resolves.
// err is set for a dropped/closed port (spec's Err(channel_dropped)); a
// protocol-level rejection instead travels inside result.Err (spec's
// Ok(Err(req_err))).
type inflightOutcome struct {
	id     uint64
	result FetchResult
	err    error
}

// Dispatch implements spec §4.5. trySend is the caller's non-blocking
// submit hook standing in for the real peer request channel (owned by the
// out-of-scope session layer). On acceptance, Dispatch spawns the relay
// goroutine that will eventually feed Run's completion handling; on
// rejection it returns hashes back to the caller as surplus without
// buffering them itself.
func (f *TxFetcher) Dispatch(peer PeerID, hashes []common.Hash, trySend TrySend) (surplus []common.Hash, err error) {
	defer f.updateGauges()

	if f.activePeers.Len() >= f.cfg.MaxConcurrentRequests && !f.activePeers.Contains(peer) {
		txFetcherRequestRejectMeter.Mark(int64(len(hashes)))
		return hashes, ErrTooManyPeers
	}

	n, ok := f.activePeers.Peek(peer)
	if !ok {
		n = 0
	}
	if n >= f.cfg.MaxConcurrentRequestsPerPeer {
		txFetcherRequestRejectMeter.Mark(int64(len(hashes)))
		return hashes, ErrPeerBusy
	}
	f.activePeers.Add(peer, n+1)

	f.assertDisjointFromBuffer(hashes)

	ch, sendErr := trySend(peer, hashes)
	if sendErr != nil {
		// Per spec §4.5 step 6 / open question §9.2: active_peers[peer] is
		// NOT rolled back here. See SPEC_FULL.md's decision for why, and
		// Drop as the caller's remedy.
		txFetcherRequestFullMeter.Mark(int64(len(hashes)))
		return hashes, ErrChannelFull
	}

	id := f.nextRequestID
	f.nextRequestID++
	f.inflightRequests[id] = &inflightRequest{
		id:       id,
		peer:     peer,
		hashes:   hashes,
		response: ch,
		started:  f.clock.Now(),
	}
	f.spawnRelay(id, ch)

	txFetcherRequestOutMeter.Mark(int64(len(hashes)))
	return nil, nil
}

// spawnRelay starts the goroutine that fans a single caller-owned response
// channel into the fetcher's shared completion channel. It touches no
// fetcher table itself — only Run's goroutine does that — preserving the
// single-owner discipline of spec §5 while still letting Go's scheduler
// wait on arbitrarily many concurrent futures, the idiomatic stand-in for
// the teacher's Rust FuturesUnordered.
func (f *TxFetcher) spawnRelay(id uint64, ch <-chan FetchResult) {
	f.group.Go(func() error {
		var outcome *inflightOutcome
		select {
		case res, ok := <-ch:
			if !ok {
				outcome = &inflightOutcome{id: id, err: ErrChannelClosed}
			} else {
				outcome = &inflightOutcome{id: id, result: res}
			}
		case <-f.groupCtx.Done():
			return nil
		}
		select {
		case f.completions <- outcome:
		case <-f.groupCtx.Done():
		}
		return nil
	})
}

// Run drives the fetcher's single suspension point (spec §5): it blocks
// until either an inflight request resolves or ctx is canceled. Exactly one
// goroutine may call Run at a time, and it must be the only goroutine
// calling any other mutator concurrently with it.
func (f *TxFetcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.groupCtx.Done():
			return errTerminated
		case out := <-f.completions:
			f.handleCompletion(out)
		}
	}
}

// handleCompletion implements spec §4.6.
func (f *TxFetcher) handleCompletion(out *inflightOutcome) {
	defer f.updateGauges()

	req, ok := f.inflightRequests[out.id]
	if !ok {
		return
	}
	delete(f.inflightRequests, out.id)
	f.decrementActive(req.peer)

	switch {
	case out.err != nil:
		f.bufferHashesForRetry(req.hashes)
		f.feed.Send(FetchEvent{Peer: req.peer, Err: out.err})

	case out.result.Err != nil:
		f.bufferHashesForRetry(req.hashes)
		f.feed.Send(FetchEvent{Peer: req.peer, Err: &RequestError{Peer: string(req.peer), Err: out.result.Err}})
		txFetcherFetchErrorMeter.Mark(int64(len(req.hashes)))

	default:
		fetchedSet := make(map[common.Hash]struct{}, len(out.result.Transactions))
		for _, tx := range out.result.Transactions {
			fetchedSet[tx.Hash()] = struct{}{}
		}
		var fetched, leftover []common.Hash
		for _, h := range req.hashes {
			if _, ok := fetchedSet[h]; ok {
				fetched = append(fetched, h)
			} else {
				leftover = append(leftover, h)
			}
		}
		f.removeUnknownBatch(fetched)
		f.bufferHashesForRetry(leftover)
		f.feed.Send(FetchEvent{Peer: req.peer, Transactions: out.result.Transactions})
		txFetcherFetchDoneMeter.Mark(int64(len(fetched)))
	}
}

// decrementActive implements open question §9.1: a completion always
// decrements the peer's inflight counter, removing the active_peers entry
// once it reaches zero. With MAX_CONCURRENT_TX_REQUESTS_PER_PEER == 1 this
// is equivalent to "any completion removes the entry", which is the
// behavior the spec's source attests.
func (f *TxFetcher) decrementActive(peer PeerID) {
	n, ok := f.activePeers.Peek(peer)
	if !ok {
		return
	}
	if n <= 1 {
		f.activePeers.Remove(peer)
		return
	}
	f.activePeers.Add(peer, n-1)
}

// bufferHashesForRetry implements spec §4.6's helper of the same name: it
// first discards hashes that a concurrent broadcast already resolved (no
// longer present in unknown_hashes), then re-buffers the rest with a
// retry-count bump.
func (f *TxFetcher) bufferHashesForRetry(hashes []common.Hash) {
	live := hashes[:0:0]
	for _, h := range hashes {
		if _, ok := f.unknownHashes[h]; ok {
			live = append(live, h)
		}
	}
	f.bufferHashes(live, nil)
}

// bufferHashes implements spec §4.6. When fallbackPeer is set, hashes are
// simply gaining an additional fallback origin (no retry cost); otherwise
// the caller just attempted and failed, so retries are bumped and hashes
// past the bound are dropped instead of re-buffered.
func (f *TxFetcher) bufferHashes(hashes []common.Hash, fallbackPeer *PeerID) {
	for _, h := range hashes {
		state, ok := f.unknownHashes[h]
		if !ok {
			continue
		}
		if fallbackPeer != nil {
			state.fallback.Add(*fallbackPeer, struct{}{})
		} else {
			if state.retries >= f.cfg.MaxRequestRetries {
				txFetcherRetryExhaustMeter.Mark(1)
				log.Debug("Transaction retries exhausted, dropping", "hash", h, "retries", state.retries)
				f.removeUnknown(h)
				continue
			}
			state.retries++
		}
		f.bufferHash(h)
	}
}

// GetIdlePeerFor implements spec §4.7: scan hash's fallback peers in LRU
// order for the first one that is both idle and alive, appending any dead
// peers encountered to endedSessions for the caller to unregister.
func (f *TxFetcher) GetIdlePeerFor(hash common.Hash, endedSessions *[]PeerID, sessionIsActive SessionIsActive) (PeerID, bool) {
	state, ok := f.unknownHashes[hash]
	if !ok {
		return "", false
	}
	for _, peer := range state.fallback.Keys() {
		if sessionIsActive != nil && !sessionIsActive(peer) {
			if endedSessions != nil {
				*endedSessions = append(*endedSessions, peer)
			}
			continue
		}
		if f.isIdle(peer) {
			return peer, true
		}
	}
	return "", false
}

// OnReceivedFullTransactionsBroadcast implements spec §4.8: a broadcast
// resolves hashes outright. Any inflight completion that later observes
// these hashes as "not returned" hands them to bufferHashesForRetry, which
// skips them without re-buffering since they are no longer in unknown_hashes.
func (f *TxFetcher) OnReceivedFullTransactionsBroadcast(hashes []common.Hash) {
	f.removeUnknownBatch(hashes)
	f.updateGauges()
}

// Drop releases peer's active-request slot unconditionally. It is not part
// of the spec's core operation set (peer disconnect handling is the
// session layer's responsibility), but is the caller's prescribed remedy
// for the no-rollback behavior of Dispatch on a channel-full failure (see
// open question §9.2 and SPEC_FULL.md's decision).
func (f *TxFetcher) Drop(peer PeerID) {
	f.activePeers.Remove(peer)
	f.updateGauges()
}

// assertDisjointFromBuffer is the check for invariants I1/I2, run on every
// Dispatch: a
// hash about to be dispatched must not simultaneously sit in
// buffered_hashes. Spec §7 classifies invariant violations as assertions in
// debug and defensive no-ops in release; this logs and continues rather
// than panicking, since a violation here would already have to have slipped
// past FilterUnseenAndPending's own bookkeeping.
func (f *TxFetcher) assertDisjointFromBuffer(hashes []common.Hash) {
	for _, h := range hashes {
		if f.bufferedHashes.Contains(h) {
			log.Warn("Invariant violation: dispatching a buffered hash", "hash", h)
		}
	}
}
