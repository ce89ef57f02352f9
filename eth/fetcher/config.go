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

// Config bundles the tunable constants of the fetcher (spec §4.1). Zero
// fields other than MaxRequestRetries are replaced by DefaultConfig's values
// in sanitize, the same
// pattern the rest of the module uses for its own Config structs (e.g.
// txpool.Config, p2p.Config): a struct of knobs plus a package default.
type Config struct {
	// MaxConcurrentRequestsPerPeer caps inflight requests for a single peer.
	MaxConcurrentRequestsPerPeer uint8
	// MaxConcurrentRequests caps the number of peers with an inflight request.
	MaxConcurrentRequests int
	// MaxRequestRetries bounds how many times a hash may be re-requested
	// before it is dropped.
	MaxRequestRetries uint8
	// MaxAlternatePeers bounds the fallback-peer LRU kept per hash.
	MaxAlternatePeers int
	// SoftLimitNumHashes bounds hashes per GetPooledTransactions request.
	SoftLimitNumHashes int
	// SoftLimitByteSize bounds the declared Eth68 byte size per request.
	SoftLimitByteSize uint64
	// MaxBufferedHashes bounds the buffered_hashes LRU.
	MaxBufferedHashes int
}

// DefaultConfig holds the binding constants of spec §4.1.
var DefaultConfig = Config{
	MaxConcurrentRequestsPerPeer: 1,
	MaxConcurrentRequests:        10000,
	MaxRequestRetries:            2,
	MaxAlternatePeers:            3, // MAX_REQUEST_RETRIES_PER_TX_HASH + MARGINAL_FALLBACK_PEERS_PER_TX
	SoftLimitNumHashes:           256,
	SoftLimitByteSize:            128 * 1024,
	MaxBufferedHashes:            100 * 256, // 100 * GET_POOLED_TRANSACTION_SOFT_LIMIT_NUM_HASHES
}

// sanitize fills in zero-valued fields with DefaultConfig's values, the way
// the module's other Config types are normalized before use.
func (c Config) sanitize() Config {
	d := DefaultConfig
	if c.MaxConcurrentRequestsPerPeer == 0 {
		c.MaxConcurrentRequestsPerPeer = d.MaxConcurrentRequestsPerPeer
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	if c.MaxAlternatePeers == 0 {
		c.MaxAlternatePeers = d.MaxAlternatePeers
	}
	if c.SoftLimitNumHashes == 0 {
		c.SoftLimitNumHashes = d.SoftLimitNumHashes
	}
	if c.SoftLimitByteSize == 0 {
		c.SoftLimitByteSize = d.SoftLimitByteSize
	}
	if c.MaxBufferedHashes == 0 {
		c.MaxBufferedHashes = d.MaxBufferedHashes
	}
	// MaxRequestRetries of 0 is a legitimate (if unusual) configuration —
	// no retries at all — so it is not defaulted away.
	return c
}
