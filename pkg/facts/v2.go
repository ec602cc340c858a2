package facts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/woof-software/streamer-report/pkg/contracts"
	"github.com/woof-software/streamer-report/pkg/stream"
)

// readV2 normalizes a v2 streamer. v2 may stream any asset, prices its native
// value through a configurable oracle and can be ended early.
func (r *Reader) readV2(ctx context.Context, target stream.Target, block uint64) (*stream.Facts, error) {
	h := height(block)
	c := contracts.Bind(target.Address, r.ABIs.V2, r.Client)
	comp := r.Assets.Comp

	var (
		asset, oracle                                  common.Address
		nominal, supplied, owed, compBalance           *big.Int
		duration, end, start, now                      uint64
		nativeDecimals, streamingDecimals, compDecimal uint8
	)
	err := r.parallel(ctx,
		func(ctx context.Context) (err error) { asset, err = c.CallAddress(ctx, h, "streamingAsset"); return },
		func(ctx context.Context) (err error) { oracle, err = c.CallAddress(ctx, h, "nativeAssetOracle"); return },
		func(ctx context.Context) (err error) {
			nominal, err = c.CallBig(ctx, h, "nativeAssetStreamingAmount")
			return
		},
		func(ctx context.Context) (err error) {
			supplied, err = c.CallBig(ctx, h, "nativeAssetSuppliedAmount")
			return
		},
		func(ctx context.Context) (err error) { duration, err = c.CallUint64(ctx, h, "streamDuration"); return },
		func(ctx context.Context) (err error) { end, err = c.CallUint64(ctx, h, "getStreamEnd"); return },
		func(ctx context.Context) (err error) { start, err = c.CallUint64(ctx, h, "startTimestamp"); return },
		func(ctx context.Context) (err error) {
			nativeDecimals, err = c.CallUint8(ctx, h, "nativeAssetDecimals")
			return
		},
		func(ctx context.Context) (err error) { owed, err = c.CallBig(ctx, h, "getNativeAssetAmountOwed"); return },
		func(ctx context.Context) (err error) {
			streamingDecimals, err = c.CallUint8(ctx, h, "streamingAssetDecimals")
			return
		},
		func(ctx context.Context) (err error) { compBalance, err = r.balanceOf(ctx, comp, target.Address, h); return },
		func(ctx context.Context) (err error) { compDecimal, err = r.tokenDecimals(ctx, comp, h); return },
		func(ctx context.Context) (err error) { now, err = r.Client.BlockTime(ctx, block); return },
	)
	if err != nil {
		return nil, err
	}

	var balance *big.Int
	needed := new(big.Int)
	err = r.parallel(ctx,
		func(ctx context.Context) (err error) { balance, err = r.balanceOf(ctx, asset, target.Address, h); return },
		func(ctx context.Context) (err error) {
			if owed.Sign() == 0 {
				return nil
			}
			needed, err = c.CallBig(ctx, h, "calculateStreamingAssetAmount", owed)
			return
		},
	)
	if err != nil {
		return nil, err
	}

	conv, err := r.convert(ctx, c, "calculateNativeAssetAmount", h, balance, needed)
	if err != nil {
		return nil, err
	}

	claimAsset := r.Assets.ClassifyOracle(oracle)
	if claimAsset == stream.ClaimAssetUnknown {
		r.Logger.Warn("unrecognized native asset oracle",
			zap.String("stream", target.Address.Hex()),
			zap.String("oracle", oracle.Hex()))
	}

	return &stream.Facts{
		Target:            target,
		Block:             block,
		Now:               now,
		StreamingAsset:    asset,
		StreamingIsComp:   asset == comp,
		ClaimAsset:        claimAsset,
		NativeDecimals:    nativeDecimals,
		StreamingDecimals: streamingDecimals,
		CompDecimals:      compDecimal,
		NominalNative:     nominal,
		TotalNative:       stream.EffectiveTotal(nominal, start, duration, end),
		SuppliedNative:    supplied,
		OwedNative:        owed,
		Start:             start,
		Duration:          duration,
		End:               end,
		StreamingBalance:  balance,
		CompBalance:       compBalance,
		StreamingForOwed:  needed,
		NativeFromBalance: conv.fromBalance,
		SurplusNative:     conv.surplus,
	}, nil
}
