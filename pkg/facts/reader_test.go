package facts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woof-software/streamer-report/pkg/contracts"
	"github.com/woof-software/streamer-report/pkg/stream"
)

var (
	comp       = common.HexToAddress("0xc00e94cb662c3520282e6f5717214004a7f26888")
	usdc       = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	usdcOracle = common.HexToAddress("0x8fffffd4afb6115b954bd326cbE7b4ba576818f6")
	usdOracle  = common.HexToAddress("0xd72ac1bce9177cfe7aeb5d0516a38c88a64ce0ab")
	v1Stream   = common.HexToAddress("0xF088339DD8e79819A41aDD5FFB75d9F245AfaAb1")
	v2Stream   = common.HexToAddress("0x36a0eB84154797DAdCEaCFD046785dB31094C308")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

var assets = stream.Assets{Comp: comp, V1Native: usdc, USDCOracle: usdcOracle, USDOracle: usdOracle}

type handler func(args []any) any

// fakeChain answers eth_call by decoding the selector against the ABI bound to
// the callee and dispatching to a handler keyed by "address.method".
type fakeChain struct {
	abis     map[common.Address]abi.ABI
	handlers map[string]handler
	heights  sync.Map
	calls    atomic.Int64
	now      uint64
}

func newFakeChain(set contracts.Set) *fakeChain {
	return &fakeChain{
		abis: map[common.Address]abi.ABI{
			comp:     set.ERC20,
			usdc:     set.ERC20,
			weth:     set.ERC20,
			v1Stream: set.V1,
			v2Stream: set.V2,
		},
		handlers: map[string]handler{},
		now:      1_700_000_000,
	}
}

func (f *fakeChain) on(addr common.Address, method string, h handler) {
	f.handlers[addr.Hex()+"."+method] = h
}

func (f *fakeChain) value(addr common.Address, method string, v any) {
	f.on(addr, method, func([]any) any { return v })
}

func (f *fakeChain) ChainHead(context.Context) (uint64, error) { return 100, nil }

func (f *fakeChain) BlockTime(context.Context, uint64) (uint64, error) { return f.now, nil }

func (f *fakeChain) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, height *big.Int) ([]byte, error) {
	f.calls.Add(1)
	f.heights.Store(height.Uint64(), true)

	parsed, ok := f.abis[*msg.To]
	if !ok {
		return nil, fmt.Errorf("no code at %s", msg.To.Hex())
	}
	method, err := parsed.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	h, ok := f.handlers[msg.To.Hex()+"."+method.Name]
	if !ok {
		return nil, fmt.Errorf("execution reverted: %s", method.Name)
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(h(args))
}

func e(n int64, dec int) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil))
}

// compToUSDC prices 1 COMP (18 decimals) at 50 USDC (6 decimals).
func compToUSDC(args []any) any {
	in := args[0].(*big.Int)
	return new(big.Int).Quo(new(big.Int).Mul(in, big.NewInt(50)), e(1, 12))
}

func usdcToComp(args []any) any {
	in := args[0].(*big.Int)
	return new(big.Int).Quo(new(big.Int).Mul(in, e(1, 12)), big.NewInt(50))
}

func setupV1(t *testing.T, balance *big.Int) (*fakeChain, contracts.Set) {
	set, err := contracts.DefaultSet()
	require.NoError(t, err)
	chain := newFakeChain(set)

	chain.value(v1Stream, "STREAM_AMOUNT", e(2_000_000, 6))
	chain.value(v1Stream, "STREAM_DURATION", big.NewInt(31_536_000))
	chain.value(v1Stream, "startTimestamp", big.NewInt(1_690_000_000))
	chain.value(v1Stream, "suppliedAmount", e(500_000, 6))
	chain.value(v1Stream, "getAmountOwed", e(100, 6))
	chain.on(v1Stream, "calculateCompAmount", usdcToComp)
	chain.on(v1Stream, "calculateUsdcAmount", compToUSDC)
	chain.value(comp, "balanceOf", balance)
	chain.value(comp, "decimals", uint8(18))
	chain.value(usdc, "decimals", uint8(6))
	return chain, set
}

func TestReadV1(t *testing.T) {
	chain, set := setupV1(t, e(10, 18))
	r := NewReader(chain, set, assets, 4, zaptest.NewLogger(t))
	defer r.Close()

	target := stream.Target{Address: v1Stream, Vendor: "Woof Software", Version: stream.V1}
	f, err := r.Read(context.Background(), target, 21_000_000)
	require.NoError(t, err)

	assert.Equal(t, comp, f.StreamingAsset)
	assert.True(t, f.StreamingIsComp)
	assert.Equal(t, stream.ClaimAssetUSDC, f.ClaimAsset)
	assert.Equal(t, uint8(6), f.NativeDecimals)
	assert.Equal(t, uint8(18), f.StreamingDecimals)
	assert.Equal(t, chain.now, f.Now)
	assert.Equal(t, uint64(1_690_000_000+31_536_000), f.End)
	assert.Equal(t, 0, f.TotalNative.Cmp(f.NominalNative))

	// 100 USDC owed is 2 COMP at 50 USDC per COMP.
	assert.Equal(t, e(2, 18).String(), f.StreamingForOwed.String())
	assert.Equal(t, e(500, 6).String(), f.NativeFromBalance.String())
	assert.Equal(t, e(400, 6).String(), f.SurplusNative.String())
	assert.False(t, f.Underfunded())
	assert.Equal(t, e(100, 6).String(), f.ClaimableNative().String())

	heights := 0
	chain.heights.Range(func(k, _ any) bool {
		assert.Equal(t, uint64(21_000_000), k)
		heights++
		return true
	})
	assert.Equal(t, 1, heights)
}

func TestReadV1Underfunded(t *testing.T) {
	chain, set := setupV1(t, e(1, 18))
	r := NewReader(chain, set, assets, 2, zaptest.NewLogger(t))
	defer r.Close()

	f, err := r.Read(context.Background(), stream.Target{Address: v1Stream, Version: stream.V1}, 5)
	require.NoError(t, err)
	assert.True(t, f.Underfunded())
	assert.Equal(t, e(50, 6).String(), f.ClaimableNative().String())
	assert.Zero(t, f.SurplusNative.Sign())
}

func TestReadV1EmptyBalanceSkipsConversions(t *testing.T) {
	chain, set := setupV1(t, new(big.Int))
	chain.on(v1Stream, "calculateUsdcAmount", func([]any) any {
		t.Error("conversion of a zero balance")
		return new(big.Int)
	})
	r := NewReader(chain, set, assets, 2, zaptest.NewLogger(t))
	defer r.Close()

	f, err := r.Read(context.Background(), stream.Target{Address: v1Stream, Version: stream.V1}, 5)
	require.NoError(t, err)
	assert.Zero(t, f.NativeFromBalance.Sign())
	assert.Zero(t, f.SurplusNative.Sign())
}

func TestReadDecimalsArePerRun(t *testing.T) {
	chain, set := setupV1(t, e(10, 18))
	var lookups atomic.Int64
	var usdcDecimals atomic.Uint32
	usdcDecimals.Store(6)
	chain.on(usdc, "decimals", func([]any) any {
		lookups.Add(1)
		return uint8(usdcDecimals.Load())
	})
	r := NewReader(chain, set, assets, 1, zaptest.NewLogger(t))
	defer r.Close()

	target := stream.Target{Address: v1Stream, Version: stream.V1}
	for i := 0; i < 3; i++ {
		f, err := r.Read(context.Background(), target, 5)
		require.NoError(t, err)
		assert.Equal(t, uint8(6), f.NativeDecimals)
	}
	assert.Equal(t, int64(1), lookups.Load())

	// the next run must see the new value
	usdcDecimals.Store(8)
	r.Reset()
	f, err := r.Read(context.Background(), target, 6)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), f.NativeDecimals)
	assert.Equal(t, int64(2), lookups.Load())
}

func setupV2(t *testing.T, asset, oracle common.Address, end uint64) (*fakeChain, contracts.Set) {
	set, err := contracts.DefaultSet()
	require.NoError(t, err)
	chain := newFakeChain(set)

	chain.value(v2Stream, "streamingAsset", asset)
	chain.value(v2Stream, "nativeAssetOracle", oracle)
	chain.value(v2Stream, "nativeAssetStreamingAmount", e(1_000_000, 6))
	chain.value(v2Stream, "nativeAssetSuppliedAmount", e(10_000, 6))
	chain.value(v2Stream, "streamDuration", big.NewInt(1_000_000))
	chain.value(v2Stream, "getStreamEnd", new(big.Int).SetUint64(end))
	chain.value(v2Stream, "startTimestamp", big.NewInt(1_699_500_000))
	chain.value(v2Stream, "nativeAssetDecimals", uint8(6))
	chain.value(v2Stream, "streamingAssetDecimals", uint8(18))
	chain.value(v2Stream, "getNativeAssetAmountOwed", new(big.Int))
	chain.on(v2Stream, "calculateStreamingAssetAmount", usdcToComp)
	chain.on(v2Stream, "calculateNativeAssetAmount", compToUSDC)
	chain.value(comp, "balanceOf", e(3, 18))
	chain.value(comp, "decimals", uint8(18))
	chain.value(weth, "balanceOf", e(4, 18))
	return chain, set
}

func TestReadV2EarlyEnd(t *testing.T) {
	chain, set := setupV2(t, weth, usdOracle, 1_699_750_000)
	r := NewReader(chain, set, assets, 4, zaptest.NewLogger(t))
	defer r.Close()

	f, err := r.Read(context.Background(), stream.Target{Address: v2Stream, Vendor: "Tally", Version: stream.V2}, 9)
	require.NoError(t, err)

	assert.Equal(t, weth, f.StreamingAsset)
	assert.False(t, f.StreamingIsComp)
	assert.Equal(t, stream.ClaimAssetUSD, f.ClaimAsset)
	assert.Equal(t, e(3, 18).String(), f.CompBalance.String())
	assert.Equal(t, e(4, 18).String(), f.StreamingBalance.String())
	assert.Equal(t, uint64(1_699_750_000), f.End)
	assert.Equal(t, e(1_000_000, 6).String(), f.NominalNative.String())
	assert.Equal(t, e(250_000, 6).String(), f.TotalNative.String())

	// nothing owed: whole balance is surplus
	assert.Zero(t, f.StreamingForOwed.Sign())
	assert.Equal(t, e(200, 6).String(), f.NativeFromBalance.String())
	assert.Equal(t, f.NativeFromBalance.String(), f.SurplusNative.String())
}

func TestReadV2UnknownOracle(t *testing.T) {
	chain, set := setupV2(t, comp, weth, 0)
	r := NewReader(chain, set, assets, 4, zaptest.NewLogger(t))
	defer r.Close()

	f, err := r.Read(context.Background(), stream.Target{Address: v2Stream, Version: stream.V2}, 9)
	require.NoError(t, err)
	assert.Equal(t, stream.ClaimAssetUnknown, f.ClaimAsset)
	assert.True(t, f.StreamingIsComp)
	assert.Zero(t, f.End)
	assert.Equal(t, f.NominalNative.String(), f.TotalNative.String())
}

func TestReadPropagatesFailure(t *testing.T) {
	chain, set := setupV2(t, weth, usdcOracle, 0)
	delete(chain.handlers, v2Stream.Hex()+".getStreamEnd")
	r := NewReader(chain, set, assets, 4, zaptest.NewLogger(t))
	defer r.Close()

	_, err := r.Read(context.Background(), stream.Target{Address: v2Stream, Vendor: "Tally", Version: stream.V2}, 9)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "getStreamEnd")
	assert.Contains(t, err.Error(), "Tally")
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	set, err := contracts.DefaultSet()
	require.NoError(t, err)
	r := NewReader(newFakeChain(set), set, assets, 1, zaptest.NewLogger(t))
	defer r.Close()

	_, err = r.Read(context.Background(), stream.Target{Address: v2Stream, Version: "v3"}, 1)
	assert.Error(t, err)
}

func TestReadHonoursCancelledContext(t *testing.T) {
	chain, set := setupV1(t, e(1, 18))
	r := NewReader(chain, set, assets, 2, zaptest.NewLogger(t))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Read(ctx, stream.Target{Address: v1Stream, Version: stream.V1}, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
