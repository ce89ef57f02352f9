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

// Package fetcher schedules retrieval of announced pending transactions from
// devp2p peers. It decides from whom and when to download transaction
// bodies, coalesces hashes into size-bounded batches, tracks inflight state
// and retries on failure. See the package's invariants in tx_fetcher.go and
// the per-operation documentation in intake.go, packaging.go and dispatch.go.
package fetcher

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/lru"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// PeerID identifies a devp2p session. The fetcher treats it as opaque.
type PeerID string

// Version distinguishes the two announcement wire formats this fetcher
// understands. Eth68 announcements carry a declared size per hash; Eth66
// ones don't.
type Version int

const (
	Eth66 Version = iota
	Eth68
)

// hashState is the per-hash bookkeeping entry of unknown_hashes (spec §3).
// retries counts failed/incomplete request attempts; fallback tracks peers
// that have announced the hash but are not the current requester, LRU
// bounded so a burst of announcers can't grow it unboundedly.
type hashState struct {
	retries  uint8
	fallback lru.BasicLRU[PeerID, struct{}]
}

// inflightRequest is a single outstanding GetPooledTransactions request
// (spec §3's inflight_requests entry): the peer it was sent to, the hashes
// it carries, and the one-shot channel the caller will eventually deliver a
// FetchResult on.
type inflightRequest struct {
	id       uint64
	peer     PeerID
	hashes   []common.Hash
	response <-chan FetchResult
	started  mclock.AbsTime
}

// FetchResult is what a caller posts back on an inflight request's response
// channel: either the transactions the peer actually returned, or an error
// describing why none (or not all of them) arrived.
type FetchResult struct {
	Transactions []PooledTransaction
	Err          error
}

// PooledTransaction is the minimal shape the fetcher needs from a delivered
// transaction: its identity. core/types.Transaction satisfies this.
type PooledTransaction interface {
	Hash() common.Hash
}

// TrySend attempts a non-blocking submission of a GetPooledTransactions
// request for hashes to peer. On success it returns the channel the
// eventual FetchResult will arrive on. On failure (channel full or closed)
// it returns a nil channel and a non-nil error; the fetcher treats both
// failure modes identically per spec §4.5 step 6.
type TrySend func(peer PeerID, hashes []common.Hash) (<-chan FetchResult, error)

// SessionIsActive reports whether peer's session is still alive. Consulted
// during intake (§4.2) and idle-peer lookup (§4.7) to prune dead fallback
// peers before LRU pressure evicts a live one.
type SessionIsActive func(peer PeerID) bool

// TxFetcher is the single-owner state machine described by spec.md. It is
// NOT safe for concurrent use: every exported method other than Events and
// Close assumes the caller serializes access (the "cooperatively scheduled,
// single-owner" model of spec §5). Run is the sole suspension point; it
// must be driven by exactly one goroutine.
type TxFetcher struct {
	cfg Config

	// Stage tables (spec §3).
	unknownHashes  map[common.Hash]*hashState
	bufferedHashes lru.BasicLRU[common.Hash, struct{}]
	eth68Meta      map[common.Hash]uint64
	activePeers    lru.BasicLRU[PeerID, uint8]

	inflightRequests map[uint64]*inflightRequest
	nextRequestID    uint64

	clock mclock.Clock

	feed        event.Feed
	completions chan *inflightOutcome
	group       *errgroup.Group
	groupCtx    context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
}

// NewTxFetcher creates a fetcher with the default constants and the system
// clock, mirroring the teacher's NewTxFetcher-delegates-to-test-constructor
// split.
func NewTxFetcher() *TxFetcher {
	return NewTxFetcherForTests(DefaultConfig, mclock.System{})
}

// NewTxFetcherForTests is the full constructor, exposed so tests can inject
// a Config and a deterministic clock the same way the teacher's
// NewTxFetcherForTests injects mclock.Clock and *rand.Rand.
func NewTxFetcherForTests(cfg Config, clock mclock.Clock) *TxFetcher {
	cfg = cfg.sanitize()
	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	return &TxFetcher{
		cfg:              cfg,
		unknownHashes:    make(map[common.Hash]*hashState),
		bufferedHashes:   lru.NewBasicLRU[common.Hash, struct{}](cfg.MaxBufferedHashes),
		eth68Meta:        make(map[common.Hash]uint64),
		activePeers:      lru.NewBasicLRU[PeerID, uint8](cfg.MaxConcurrentRequests),
		inflightRequests: make(map[uint64]*inflightRequest),
		clock:            clock,
		completions:      make(chan *inflightOutcome, 64),
		group:            group,
		groupCtx:         groupCtx,
		cancel:           cancel,
	}
}

// Events returns the feed of FetchEvent values. Subscribers are responsible
// for draining their channel promptly; Feed.Send blocks on slow readers the
// same way it would for any other event.Feed consumer in this module.
func (f *TxFetcher) Events() *event.Feed {
	return &f.feed
}

// Close tears down the fetcher, canceling every outstanding relay goroutine
// spawned by Dispatch and waiting for them to return.
func (f *TxFetcher) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.cancel()
		err = f.group.Wait()
	})
	return err
}

// insertUnknown creates a fresh unknown_hashes entry for hash if one does
// not already exist. Returns the (possibly pre-existing) entry.
func (f *TxFetcher) insertUnknown(hash common.Hash) *hashState {
	if s, ok := f.unknownHashes[hash]; ok {
		return s
	}
	s := &hashState{fallback: lru.NewBasicLRU[PeerID, struct{}](f.cfg.MaxAlternatePeers)}
	f.unknownHashes[hash] = s
	return s
}

// removeUnknown purges hash from all three hash-keyed tables (invariant I4:
// eviction from unknown_hashes cascades to eth68_meta and buffered_hashes).
// This is the only place a hash leaves unknown_hashes and eth68_meta, so
// every public operation's cleanup funnels here. buffered_hashes alone also
// loses hashes when intake or augmentation moves them into a request.
func (f *TxFetcher) removeUnknown(hash common.Hash) {
	delete(f.unknownHashes, hash)
	delete(f.eth68Meta, hash)
	f.bufferedHashes.Remove(hash)
}

// removeUnknownBatch is the batch form used by completion handling and
// broadcast reconciliation.
func (f *TxFetcher) removeUnknownBatch(hashes []common.Hash) {
	for _, h := range hashes {
		f.removeUnknown(h)
	}
}

// bufferHash inserts hash into buffered_hashes, cascading any LRU eviction
// back through removeUnknown per invariant I4 and design note §9 ("insert
// returns evicted key"). common/lru.BasicLRU doesn't report the evicted key
// directly, so capacity is pre-checked and the oldest entry is read via
// GetOldest before the insert actually happens.
func (f *TxFetcher) bufferHash(hash common.Hash) {
	if !f.bufferedHashes.Contains(hash) && f.bufferedHashes.Len() >= f.cfg.MaxBufferedHashes {
		if evicted, _, ok := f.bufferedHashes.GetOldest(); ok {
			f.bufferedHashes.Remove(evicted)
			f.removeUnknown(evicted)
			log.Debug("Evicted buffered transaction hash", "hash", evicted)
		}
	}
	f.bufferedHashes.Add(hash, struct{}{})
}

// unbufferHashes removes hashes from buffered_hashes without touching
// unknown_hashes or eth68_meta — used when hashes are being promoted out of
// the buffer into an active request by augmentation (spec §4.4).
func (f *TxFetcher) unbufferHashes(hashes []common.Hash) {
	for _, h := range hashes {
		f.bufferedHashes.Remove(h)
	}
}

// isEth68 classifies a hash by presence in eth68_meta, per spec §3's
// "persisted version is derived by presence" design choice.
func (f *TxFetcher) isEth68(hash common.Hash) bool {
	_, ok := f.eth68Meta[hash]
	return ok
}

// isIdle reports whether peer could accept another request right now
// (spec §4.7).
func (f *TxFetcher) isIdle(peer PeerID) bool {
	n, ok := f.activePeers.Peek(peer)
	return !ok || n < f.cfg.MaxConcurrentRequestsPerPeer
}
