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

import "github.com/ethereum/go-ethereum/metrics"

var (
	txFetcherAnnounceInMeter   = metrics.NewRegisteredMeter("eth/fetcher/transaction/announce/in", nil)
	txFetcherAnnounceDropMeter = metrics.NewRegisteredMeter("eth/fetcher/transaction/announce/dropped", nil)

	txFetcherRequestOutMeter    = metrics.NewRegisteredMeter("eth/fetcher/transaction/request/out", nil)
	txFetcherRequestFullMeter   = metrics.NewRegisteredMeter("eth/fetcher/transaction/request/full", nil)
	txFetcherRequestRejectMeter = metrics.NewRegisteredMeter("eth/fetcher/transaction/request/rejected", nil)

	txFetcherFetchDoneMeter    = metrics.NewRegisteredMeter("eth/fetcher/transaction/fetch/done", nil)
	txFetcherFetchErrorMeter   = metrics.NewRegisteredMeter("eth/fetcher/transaction/fetch/error", nil)
	txFetcherRetryExhaustMeter = metrics.NewRegisteredMeter("eth/fetcher/transaction/retry/exhausted", nil)
	txFetcherLruRejectMeter    = metrics.NewRegisteredMeter("eth/fetcher/transaction/lru/rejected", nil)

	txFetcherUnknownGauge   = metrics.NewRegisteredGauge("eth/fetcher/transaction/unknown", nil)
	txFetcherBufferedGauge  = metrics.NewRegisteredGauge("eth/fetcher/transaction/buffered", nil)
	txFetcherActivePeers    = metrics.NewRegisteredGauge("eth/fetcher/transaction/peers/active", nil)
	txFetcherInflightGauge  = metrics.NewRegisteredGauge("eth/fetcher/transaction/inflight", nil)
	txFetcherEth68MetaGauge = metrics.NewRegisteredGauge("eth/fetcher/transaction/eth68meta", nil)
)

// updateGauges refreshes the table-size gauges. Called at the end of intake,
// Dispatch, completion handling, broadcast reconciliation and Drop,
// mirroring the teacher's end-of-loop metrics bump in tx_fetcher.go's
// loop(). The augmentation functions in packaging.go do not call it.
func (f *TxFetcher) updateGauges() {
	txFetcherUnknownGauge.Update(int64(len(f.unknownHashes)))
	txFetcherBufferedGauge.Update(int64(f.bufferedHashes.Len()))
	txFetcherActivePeers.Update(int64(f.activePeers.Len()))
	txFetcherInflightGauge.Update(int64(len(f.inflightRequests)))
	txFetcherEth68MetaGauge.Update(int64(len(f.eth68Meta)))
}
