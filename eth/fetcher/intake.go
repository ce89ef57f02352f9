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
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	mapset "github.com/deckarep/golang-set/v2"
)

// FilterUnseenAndPending implements spec §4.2. It classifies each announced
// hash as buffered, inflight, or new, and returns the subset the caller
// should request from peer right now. Hashes repeated within a single
// announcement (a malformed or adversarial wire message) are deduplicated
// before classification, since a double-processed hash would otherwise
// insert peer into its own fallback set or double-prune dead peers.
//
// sizes, when non-nil, must be the same length as hashes and carries each
// hash's declared Eth68 size; pass nil for Eth66 announcements.
func (f *TxFetcher) FilterUnseenAndPending(peer PeerID, hashes []common.Hash, sizes []uint64, sessionIsActive SessionIsActive) []common.Hash {
	defer f.updateGauges()

	txFetcherAnnounceInMeter.Mark(int64(len(hashes)))

	seen := mapset.NewThreadUnsafeSet[common.Hash]()
	retained := make([]common.Hash, 0, len(hashes))

	for i, hash := range hashes {
		if seen.Contains(hash) {
			txFetcherAnnounceDropMeter.Mark(1)
			continue
		}
		seen.Add(hash)

		var size uint64
		if sizes != nil {
			size = sizes[i]
		}

		state, known := f.unknownHashes[hash]
		switch {
		case known && f.bufferedHashes.Contains(hash):
			f.bufferedHashes.Remove(hash)
			f.pruneDeadFallback(state, sessionIsActive)
			retained = append(retained, hash)

		case known:
			// Already inflight: track peer as a fallback origin, drop from
			// the caller's retained set.
			f.pruneDeadFallback(state, sessionIsActive)
			if state.fallback.Len() >= f.cfg.MaxAlternatePeers && !state.fallback.Contains(peer) {
				log.Trace("Fallback peer set full, evicting oldest", "hash", hash)
			}
			state.fallback.Add(peer, struct{}{})

		default:
			state = f.insertUnknown(hash)
			if sizes != nil {
				f.eth68Meta[hash] = size
			}
			retained = append(retained, hash)
		}
	}
	return retained
}

// pruneDeadFallback removes peers from state's fallback set whose session
// has ended, protecting the bounded LRU from evicting a live peer in favor
// of one that can never service a request (spec §4.2, design note §9).
func (f *TxFetcher) pruneDeadFallback(state *hashState, sessionIsActive SessionIsActive) {
	if sessionIsActive == nil {
		return
	}
	for _, peer := range state.fallback.Keys() {
		if !sessionIsActive(peer) {
			state.fallback.Remove(peer)
		}
	}
}
