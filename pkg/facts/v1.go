package facts

import (
	"context"
	"math/big"

	"github.com/woof-software/streamer-report/pkg/contracts"
	"github.com/woof-software/streamer-report/pkg/stream"
)

// readV1 normalizes a v1 streamer. v1 always streams COMP and pays out a fixed
// native asset; its schedule cannot be shortened.
func (r *Reader) readV1(ctx context.Context, target stream.Target, block uint64) (*stream.Facts, error) {
	h := height(block)
	c := contracts.Bind(target.Address, r.ABIs.V1, r.Client)
	comp := r.Assets.Comp

	var (
		amount, supplied, owed, balance *big.Int
		duration, start, now            uint64
		compDecimals, nativeDecimals    uint8
	)
	err := r.parallel(ctx,
		func(ctx context.Context) (err error) { amount, err = c.CallBig(ctx, h, "STREAM_AMOUNT"); return },
		func(ctx context.Context) (err error) { duration, err = c.CallUint64(ctx, h, "STREAM_DURATION"); return },
		func(ctx context.Context) (err error) { start, err = c.CallUint64(ctx, h, "startTimestamp"); return },
		func(ctx context.Context) (err error) { supplied, err = c.CallBig(ctx, h, "suppliedAmount"); return },
		func(ctx context.Context) (err error) { owed, err = c.CallBig(ctx, h, "getAmountOwed"); return },
		func(ctx context.Context) (err error) { balance, err = r.balanceOf(ctx, comp, target.Address, h); return },
		func(ctx context.Context) (err error) { compDecimals, err = r.tokenDecimals(ctx, comp, h); return },
		func(ctx context.Context) (err error) {
			nativeDecimals, err = r.tokenDecimals(ctx, r.Assets.V1Native, h)
			return
		},
		func(ctx context.Context) (err error) { now, err = r.Client.BlockTime(ctx, block); return },
	)
	if err != nil {
		return nil, err
	}

	needed := new(big.Int)
	if owed.Sign() > 0 {
		if needed, err = c.CallBig(ctx, h, "calculateCompAmount", owed); err != nil {
			return nil, err
		}
	}
	conv, err := r.convert(ctx, c, "calculateUsdcAmount", h, balance, needed)
	if err != nil {
		return nil, err
	}

	f := &stream.Facts{
		Target:            target,
		Block:             block,
		Now:               now,
		StreamingAsset:    comp,
		StreamingIsComp:   true,
		ClaimAsset:        stream.ClaimAssetUSDC,
		NativeDecimals:    nativeDecimals,
		StreamingDecimals: compDecimals,
		CompDecimals:      compDecimals,
		NominalNative:     amount,
		TotalNative:       new(big.Int).Set(amount),
		SuppliedNative:    supplied,
		OwedNative:        owed,
		Start:             start,
		Duration:          duration,
		StreamingBalance:  balance,
		CompBalance:       new(big.Int).Set(balance),
		StreamingForOwed:  needed,
		NativeFromBalance: conv.fromBalance,
		SurplusNative:     conv.surplus,
	}
	f.End = f.NominalEnd()
	return f, nil
}
