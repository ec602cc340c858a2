// Package report runs the per-stream pipeline over a registry and renders the
// resulting rows.
package report

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/woof-software/streamer-report/pkg/contracts"
	"github.com/woof-software/streamer-report/pkg/deficit"
	"github.com/woof-software/streamer-report/pkg/stream"
)

// ClaimLookback widens the claim search before the stream start by one day.
const ClaimLookback = 86_400

// HeadSource resolves the latest block.
type HeadSource interface {
	ChainHead(ctx context.Context) (uint64, error)
}

// FactsReader reads a stream snapshot at a block. Reset is called once at the
// start of every run and must forget anything learned by earlier runs.
type FactsReader interface {
	Read(ctx context.Context, target stream.Target, block uint64) (*stream.Facts, error)
	Reset()
}

// BlockResolver maps a timestamp to the last block at or before it.
type BlockResolver interface {
	AtOrBefore(ctx context.Context, target int64, ceiling *uint64) (uint64, error)
}

// ClaimAggregator sums claim events over a block range.
type ClaimAggregator interface {
	Aggregate(ctx context.Context, address common.Address, version stream.Version, parsed abi.ABI, from, ceiling uint64) (stream.ClaimTotals, error)
}

// ClaimSimulator projects the remaining native value after a claim.
type ClaimSimulator interface {
	Simulate(ctx context.Context, target stream.Target, facts *stream.Facts, forkBlock uint64) (*big.Int, error)
}

// Assembler builds one row per registry target.
type Assembler struct {
	Registry stream.Registry
	ABIs     contracts.Set
	Head     HeadSource
	Facts    FactsReader
	Blocks   BlockResolver
	Claims   ClaimAggregator
	// Simulator is optional; without it the simulated column stays empty.
	Simulator ClaimSimulator
	Logger    *zap.Logger
}

// Result is a finished report.
type Result struct {
	Block uint64
	Rows  []Row
}

// Run evaluates every target at block (0 for the chain head). Targets run one
// after another because they share the simulator's sandbox; the first error
// aborts the run.
func (a *Assembler) Run(ctx context.Context, block uint64) (Result, error) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a.Facts.Reset()

	if block == 0 {
		head, err := a.Head.ChainHead(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("resolve chain head: %w", err)
		}
		block = head
	}
	logger.Info("building streamer report",
		zap.Uint64("block", block),
		zap.Int("streams", len(a.Registry.Targets)),
		zap.Bool("simulate", a.Simulator != nil))

	rows := make([]Row, 0, len(a.Registry.Targets))
	for i, target := range a.Registry.Targets {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		row, err := a.buildRow(ctx, target, block)
		if err != nil {
			return Result{}, err
		}
		logger.Info("stream processed",
			zap.Int("index", i),
			zap.String("vendor", target.Vendor),
			zap.String("stream", target.Address.Hex()),
			zap.String("required_top_up", row.RequiredTopUp),
			zap.String("days_deficit", row.DaysDeficit))
		rows = append(rows, row)
	}
	return Result{Block: block, Rows: rows}, nil
}

func (a *Assembler) buildRow(ctx context.Context, target stream.Target, block uint64) (Row, error) {
	parsed, err := a.ABIs.For(target.Version)
	if err != nil {
		return Row{}, err
	}

	facts, err := a.Facts.Read(ctx, target, block)
	if err != nil {
		return Row{}, err
	}

	from, err := a.Blocks.AtOrBefore(ctx, claimSearchStart(facts.Start), &block)
	if err != nil {
		return Row{}, fmt.Errorf("claim search start %s: %w", target.Vendor, err)
	}
	claims, err := a.Claims.Aggregate(ctx, target.Address, target.Version, parsed, from, block)
	if err != nil {
		return Row{}, err
	}

	metrics := deficit.Compute(facts)

	var simulated *big.Int
	if a.Simulator != nil {
		if simulated, err = a.Simulator.Simulate(ctx, target, facts, block); err != nil {
			return Row{}, err
		}
	}
	return BuildRow(facts, claims, metrics, simulated), nil
}

// claimSearchStart is one day before start, or 0 for streams that have not
// started.
func claimSearchStart(start uint64) int64 {
	if start <= ClaimLookback {
		return 0
	}
	return int64(start - ClaimLookback)
}
