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
)

// PackageEth66 implements spec §4.3's Eth66 rule: a plain count cutoff, no
// byte accounting since Eth66 announcements carry no size metadata.
func (f *TxFetcher) PackageEth66(hashes []common.Hash) (request, surplus []common.Hash) {
	limit := f.cfg.SoftLimitNumHashes
	if len(hashes) <= limit {
		return hashes, nil
	}
	// Spec splits the tail off at index SOFT_LIMIT_NUM_HASHES-1, not
	// SOFT_LIMIT_NUM_HASHES; followed literally here.
	cut := limit - 1
	return hashes[:cut], hashes[cut:]
}

// PackageEth68 implements spec §4.3's Eth68 rule: a single-oversize
// shortcut, then a no-early-termination accumulate-by-byte-budget pass
// (design note §9.3 — a later, smaller hash may still fit after a larger
// one was rejected, so the loop always continues rather than breaking).
// Every hash in hashes must have an entry in eth68_meta; a missing entry is
// a broken invariant upstream and is treated as non-fitting here.
func (f *TxFetcher) PackageEth68(hashes []common.Hash) (request, surplus []common.Hash, accSize uint64) {
	if len(hashes) == 0 {
		return nil, nil, 0
	}
	limit := f.cfg.SoftLimitByteSize

	first, ok := f.eth68Meta[hashes[0]]
	if !ok {
		log.Warn("Eth68 hash missing size metadata", "hash", hashes[0])
	}
	if first >= limit {
		return hashes[:1], hashes[1:], first
	}

	request = make([]common.Hash, 0, len(hashes))
	surplus = make([]common.Hash, 0)
	for _, h := range hashes {
		size, ok := f.eth68Meta[h]
		if !ok {
			log.Warn("Eth68 hash missing size metadata", "hash", h)
			surplus = append(surplus, h)
			continue
		}
		if accSize+size <= limit {
			request = append(request, h)
			accSize += size
			continue
		}
		surplus = append(surplus, h)
		// No break: a smaller hash later in hashes may still fit.
	}
	return request, surplus, accSize
}

// FillEth68RequestForPeer implements spec §4.4's Eth68 augmentation: pad an
// already-packaged request with buffered hashes peer is a fallback for,
// promoting peer from fallback to active requester on each addition.
func (f *TxFetcher) FillEth68RequestForPeer(peer PeerID, hashes []common.Hash, accSize uint64) ([]common.Hash, uint64) {
	limit := f.cfg.SoftLimitByteSize
	if accSize >= limit/2 {
		return hashes, accSize
	}
	twoThirds := (2 * limit) / 3

	var promoted []common.Hash
	for _, h := range f.bufferedHashes.Keys() {
		if len(hashes) > f.cfg.SoftLimitNumHashes {
			break
		}
		if accSize >= twoThirds {
			break
		}
		if !f.isEth68(h) {
			continue
		}
		size := f.eth68Meta[h]
		if accSize+size > limit {
			continue
		}
		state, ok := f.unknownHashes[h]
		if !ok || !state.fallback.Contains(peer) {
			continue
		}
		state.fallback.Remove(peer)
		hashes = append(hashes, h)
		accSize += size
		promoted = append(promoted, h)
	}
	f.unbufferHashes(promoted)
	return hashes, accSize
}

// FillEth66RequestForPeer implements spec §4.4's Eth66 augmentation: the
// same promotion shape without byte accounting, stopping at the hash-count
// soft limit and skipping hashes that are actually Eth68 (tracked by
// presence in eth68_meta).
func (f *TxFetcher) FillEth66RequestForPeer(peer PeerID, hashes []common.Hash) []common.Hash {
	var promoted []common.Hash
	for _, h := range f.bufferedHashes.Keys() {
		if len(hashes) >= f.cfg.SoftLimitNumHashes {
			break
		}
		if f.isEth68(h) {
			continue
		}
		state, ok := f.unknownHashes[h]
		if !ok || !state.fallback.Contains(peer) {
			continue
		}
		state.fallback.Remove(peer)
		hashes = append(hashes, h)
		promoted = append(promoted, h)
	}
	f.unbufferHashes(promoted)
	return hashes
}
