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

// FetchEvent is the single concrete type carried by the fetcher's
// event.Feed. It stands in for the Rust source's two-variant enum
// (TransactionsFetched / FetchError, spec §6): Feed requires every Send on
// a given Feed to share one static type, so the two variants are flattened
// into one struct distinguished by which of Transactions/Err is set, the
// same way a single Go channel of one struct type is the idiomatic
// replacement for a tagged union.
//
// Err is set for FetchError. When Err is nil the event is
// TransactionsFetched, and Transactions holds what the peer returned, which
// may be empty.
type FetchEvent struct {
	Peer         PeerID
	Transactions []PooledTransaction // set for TransactionsFetched
	Err          error               // set for FetchError
}
