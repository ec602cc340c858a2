package claims

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/woof-software/streamer-report/pkg/contracts"
	"github.com/woof-software/streamer-report/pkg/stream"
)

const (
	// EventName is the event every streamer version emits on claim.
	EventName = "Claimed"
	// DefaultWindow keeps eth_getLogs under the 10k block range most providers allow.
	DefaultWindow uint64 = 9_000
)

// LogSource is the subset of rpc.Client the aggregator needs.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Aggregator sums Claimed events over a block range.
type Aggregator struct {
	Source LogSource
	Window uint64
	Logger *zap.Logger
}

// NewAggregator returns an aggregator querying window blocks per request.
func NewAggregator(src LogSource, window uint64, logger *zap.Logger) *Aggregator {
	if window == 0 {
		window = DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{Source: src, Window: window, Logger: logger}
}

// Aggregate scans [from, ceiling] in disjoint windows and sums the version's
// (streaming, native) claim fields. Logs that cannot be decoded are skipped and
// counted in the result.
func (a *Aggregator) Aggregate(ctx context.Context, address common.Address, version stream.Version, parsed abi.ABI, from, ceiling uint64) (stream.ClaimTotals, error) {
	totals := stream.ZeroClaimTotals()

	event, ok := parsed.Events[EventName]
	if !ok {
		a.Logger.Warn("claim event missing from abi",
			zap.String("stream", address.Hex()),
			zap.String("version", string(version)))
		return totals, nil
	}
	if from > ceiling {
		return totals, nil
	}

	streamingField, nativeField := version.ClaimFields()
	window := a.Window
	if window == 0 {
		window = DefaultWindow
	}

	for start := from; start <= ceiling; {
		end := ceiling
		if ceiling-start >= window {
			end = start + window - 1
		}

		logs, err := a.Source.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{address},
			Topics:    [][]common.Hash{{event.ID}},
		})
		if err != nil {
			return stream.ClaimTotals{}, fmt.Errorf("claims %s [%d,%d]: %w", address.Hex(), start, end, err)
		}

		for i := range logs {
			totals.Logs++
			streaming, native, err := decodeClaim(event, &logs[i], streamingField, nativeField)
			if err != nil {
				totals.Skipped++
				a.Logger.Debug("skipping undecodable claim log",
					zap.String("stream", address.Hex()),
					zap.Uint64("block", logs[i].BlockNumber),
					zap.Uint("index", logs[i].Index),
					zap.Error(err))
				continue
			}
			totals.Streaming.Add(totals.Streaming, streaming)
			totals.Native.Add(totals.Native, native)
		}

		if end == ceiling {
			break
		}
		start = end + 1
	}

	if totals.Skipped > 0 {
		a.Logger.Warn("claim logs skipped",
			zap.String("stream", address.Hex()),
			zap.Int("skipped", totals.Skipped),
			zap.Int("logs", totals.Logs))
	}
	return totals, nil
}

// decodeClaim extracts the two amount fields from a log, whether they are
// indexed topics or part of the data payload.
func decodeClaim(event abi.Event, log *types.Log, streamingField, nativeField string) (*big.Int, *big.Int, error) {
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return nil, nil, fmt.Errorf("topic mismatch")
	}
	if log.Removed {
		return nil, nil, fmt.Errorf("log removed by reorg")
	}

	fields := map[string]any{}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(fields, log.Data); err != nil {
		return nil, nil, fmt.Errorf("unpack data: %w", err)
	}
	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(fields, indexed, log.Topics[1:]); err != nil {
			return nil, nil, fmt.Errorf("unpack topics: %w", err)
		}
	}

	streaming, err := field(fields, streamingField)
	if err != nil {
		return nil, nil, err
	}
	native, err := field(fields, nativeField)
	if err != nil {
		return nil, nil, err
	}
	return streaming, native, nil
}

func field(fields map[string]any, name string) (*big.Int, error) {
	raw, ok := fields[name]
	if !ok {
		return nil, fmt.Errorf("field %q missing", name)
	}
	v, err := contracts.ToBig(raw)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", name, err)
	}
	return v, nil
}
