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

import "errors"

var (
	// errTerminated is returned by Run once Close has canceled the fetcher.
	errTerminated = errors.New("fetcher terminated")

	// ErrChannelClosed is surfaced when a peer's response port was dropped
	// before delivering a result, typically because the session ended.
	ErrChannelClosed = errors.New("peer response channel closed")

	// ErrChannelFull is returned by Dispatch when the caller's trySend hook
	// reports that the peer's request channel has no room. The fetcher does
	// not roll back the active-peer slot it reserved for this attempt; see
	// the open-question note in dispatch.go.
	ErrChannelFull = errors.New("peer request channel full")

	// ErrTooManyPeers is returned by Dispatch once MAX_CONCURRENT_TX_REQUESTS
	// active peers are already tracked.
	ErrTooManyPeers = errors.New("too many concurrent peers")

	// ErrPeerBusy is returned by Dispatch when the peer already has
	// MAX_CONCURRENT_TX_REQUESTS_PER_PEER inflight requests.
	ErrPeerBusy = errors.New("peer already has a request in flight")

	// errLruInsertFailure names the error kind of a bounded LRU refusing an
	// insertion. The BasicLRU tables used by the fetcher never refuse one, so
	// no code path logs or returns it.
	errLruInsertFailure = errors.New("lru insert refused")
)

// RequestError wraps a protocol-level rejection returned by a peer in
// response to a GetPooledTransactions request. It re-buffers like any other
// failure but is surfaced to subscribers verbatim so they can log or score
// on the underlying cause.
type RequestError struct {
	Peer string
	Err  error
}

func (e *RequestError) Error() string {
	return "request to " + e.Peer + " failed: " + e.Err.Error()
}

func (e *RequestError) Unwrap() error { return e.Err }
