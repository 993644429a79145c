package settlementservice

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/streamside-labs/sidepool/app/modules/round/roundtypes"
	"github.com/streamside-labs/sidepool/config"
	"github.com/streamside-labs/sidepool/internal/chain"
)

// Disburser drives manifest entries through the transfer service in
// fixed-size batches. Business-level failures (bad address, dust after
// fees, insufficient funds, rejected transaction) are encoded on the
// entries and never returned as errors; only the caller's context ending
// early cuts a run short, and even then every unattempted entry comes back
// failed so downstream retry sees uniform state.
type Disburser struct {
	transfer    chain.TransferService
	treasury    string
	batchSize   int
	feeEstimate int64
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewDisburser returns a disburser paying out of the treasury address.
func NewDisburser(transfer chain.TransferService, treasury string, cfg config.GameConfig, logger *slog.Logger) *Disburser {
	return &Disburser{
		transfer:    transfer,
		treasury:    treasury,
		batchSize:   cfg.BatchSize,
		feeEstimate: cfg.FeeEstimate,
		limiter:     rate.NewLimiter(rate.Every(cfg.BatchInterval), 1),
		logger:      logger,
	}
}

// Disburse processes entries in batches and returns them with final
// statuses. Input statuses are ignored; every entry starts a fresh attempt.
func (d *Disburser) Disburse(ctx context.Context, entries []roundtypes.PayoutEntry) []roundtypes.PayoutEntry {
	results := make([]roundtypes.PayoutEntry, len(entries))
	copy(results, entries)
	for i := range results {
		results[i].Status = roundtypes.PayoutPending
		results[i].Txid = ""
		results[i].Error = ""
	}

	totalBatches := (len(results) + d.batchSize - 1) / d.batchSize
	d.logger.Info("processing payouts",
		slog.Int("entries", len(results)),
		slog.Int("batch_size", d.batchSize),
		slog.Int("batches", totalBatches))

	for start := 0; start < len(results); start += d.batchSize {
		if err := d.limiter.Wait(ctx); err != nil {
			for i := start; i < len(results); i++ {
				results[i].Status = roundtypes.PayoutFailed
				results[i].Error = "disbursement aborted: " + err.Error()
			}
			break
		}

		end := start + d.batchSize
		if end > len(results) {
			end = len(results)
		}
		d.logger.Info("processing batch",
			slog.Int("batch", start/d.batchSize+1),
			slog.Int("batches", totalBatches))
		d.processBatch(ctx, results[start:end])
	}

	return results
}

// processBatch attempts one transfer submission covering every payable
// entry in the batch.
func (d *Disburser) processBatch(ctx context.Context, batch []roundtypes.PayoutEntry) {
	var transfers []chain.Transfer
	var payable []int
	var totalNeeded int64

	for i := range batch {
		entry := &batch[i]
		if err := chain.ValidateAddress(entry.Wallet); err != nil {
			d.logger.Warn("invalid wallet address", slog.String("wallet", entry.Wallet))
			entry.Status = roundtypes.PayoutFailed
			entry.Error = "invalid wallet address"
			continue
		}

		net := entry.Amount - d.feeEstimate
		if net <= 0 {
			d.logger.Warn("amount too small after fee deduction",
				slog.String("wallet", entry.Wallet),
				slog.Int64("amount", entry.Amount))
			entry.Status = roundtypes.PayoutFailed
			entry.Error = "amount too small after fee deduction"
			continue
		}

		transfers = append(transfers, chain.Transfer{Recipient: entry.Wallet, Amount: net})
		payable = append(payable, i)
		totalNeeded += entry.Amount
	}

	if len(payable) == 0 {
		d.logger.Warn("no payable entries in batch")
		return
	}

	balance, err := d.transfer.Balance(ctx, d.treasury)
	if err != nil {
		d.logger.Error("treasury balance check failed", slog.Any("error", err))
		d.failAll(batch, payable, "transfer service unreachable: "+err.Error())
		return
	}
	if balance < totalNeeded {
		d.logger.Error("insufficient treasury balance",
			slog.Int64("needed", totalNeeded),
			slog.Int64("available", balance))
		d.failAll(batch, payable, "insufficient funds")
		return
	}

	txid, err := d.transfer.TransferBatch(ctx, transfers)
	if err != nil {
		d.logger.Error("batch transfer failed", slog.Any("error", err))
		d.failAll(batch, payable, err.Error())
		return
	}

	for _, i := range payable {
		batch[i].Status = roundtypes.PayoutSent
		batch[i].Txid = txid
	}
	d.logger.Info("batch transaction confirmed",
		slog.String("txid", txid),
		slog.Int("recipients", len(payable)))
}

func (d *Disburser) failAll(batch []roundtypes.PayoutEntry, indexes []int, reason string) {
	for _, i := range indexes {
		batch[i].Status = roundtypes.PayoutFailed
		batch[i].Error = reason
	}
}
