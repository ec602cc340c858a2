package blocks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/woof-software/streamer-report/pkg/rpc"
)

// HeaderSource is the subset of rpc.Client the resolver needs.
type HeaderSource interface {
	ChainHead(ctx context.Context) (uint64, error)
	BlockTime(ctx context.Context, height uint64) (uint64, error)
}

// Resolver maps timestamps to block heights.
type Resolver struct {
	Source HeaderSource
	Logger *zap.Logger
}

// NewResolver returns a resolver reading headers from src.
func NewResolver(src HeaderSource, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{Source: src, Logger: logger}
}

// AtOrBefore returns the greatest block at or below ceiling whose timestamp is
// <= target. A nil ceiling means the chain head. target <= 0 returns 0.
//
// Block timestamps are assumed non-decreasing. A probed block the node does not
// have is treated as lying after target, so the search always terminates.
func (r *Resolver) AtOrBefore(ctx context.Context, target int64, ceiling *uint64) (uint64, error) {
	if target <= 0 {
		return 0, nil
	}

	var high uint64
	if ceiling != nil {
		high = *ceiling
	} else {
		head, err := r.Source.ChainHead(ctx)
		if err != nil {
			return 0, err
		}
		high = head
	}

	ceilingTime, err := r.Source.BlockTime(ctx, high)
	if errors.Is(err, rpc.ErrBlockNotFound) {
		r.Logger.Warn("ceiling block not available, resolving to genesis", zap.Uint64("height", high))
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("resolve block for %d: %w", target, err)
	}
	if uint64(target) >= ceilingTime {
		return high, nil
	}

	var (
		low    uint64
		probes int
	)
	for low < high {
		mid := low + (high-low+1)/2
		probes++
		ts, err := r.Source.BlockTime(ctx, mid)
		switch {
		case errors.Is(err, rpc.ErrBlockNotFound):
			high = mid - 1
		case err != nil:
			return 0, fmt.Errorf("resolve block for %d: %w", target, err)
		case ts <= uint64(target):
			low = mid
		default:
			high = mid - 1
		}
	}

	r.Logger.Debug("resolved block by timestamp",
		zap.Int64("target", target),
		zap.Uint64("block", low),
		zap.Int("probes", probes),
	)
	return low, nil
}
