package facts

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"runtime"

	"github.com/alitto/pond/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/woof-software/streamer-report/pkg/contracts"
	"github.com/woof-software/streamer-report/pkg/fixedpoint"
	"github.com/woof-software/streamer-report/pkg/rpc"
	"github.com/woof-software/streamer-report/pkg/stream"
)

// Reader builds stream.Facts from on-chain state. Every call of one Read is
// pinned to the same block.
type Reader struct {
	Client rpc.Client
	ABIs   contracts.Set
	Assets stream.Assets
	Logger *zap.Logger

	pool pond.Pool
	// decimals looked up during the current run; cleared by Reset
	decimals *xsync.Map[common.Address, uint8]
}

// NewReader returns a reader issuing at most parallelism calls at once.
func NewReader(client rpc.Client, abis contracts.Set, assets stream.Assets, parallelism int, logger *zap.Logger) *Reader {
	if parallelism <= 0 {
		parallelism = Parallelism()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{
		Client:   client,
		ABIs:     abis,
		Assets:   assets,
		Logger:   logger,
		pool:     pond.NewPool(parallelism),
		decimals: xsync.NewMap[common.Address, uint8](),
	}
}

// Parallelism is the default number of concurrent reads: two per CPU, capped
// so a single run does not flood the node.
func Parallelism() int {
	n := runtime.NumCPU() * 2
	if n < 4 {
		n = 4
	}
	if n > 16 {
		n = 16
	}
	return n
}

// Reset drops everything remembered from the previous run so the next run
// re-reads fresh state. It must not race with Read.
func (r *Reader) Reset() {
	r.decimals.Clear()
}

// Close stops the worker pool once in-flight reads finish.
func (r *Reader) Close() {
	r.pool.StopAndWait()
}

// Read returns the facts of target at block.
func (r *Reader) Read(ctx context.Context, target stream.Target, block uint64) (*stream.Facts, error) {
	r.Logger.Debug("reading stream facts",
		zap.String("stream", target.Address.Hex()),
		zap.String("version", string(target.Version)),
		zap.Uint64("block", block))

	var (
		f   *stream.Facts
		err error
	)
	switch target.Version {
	case stream.V1:
		f, err = r.readV1(ctx, target, block)
	case stream.V2:
		f, err = r.readV2(ctx, target, block)
	default:
		return nil, fmt.Errorf("stream %s: unsupported version %q", target.Address.Hex(), target.Version)
	}
	if err != nil {
		return nil, fmt.Errorf("read facts %s (%s): %w", target.Vendor, target.Address.Hex(), err)
	}
	return f, nil
}

// call is one read whose result is stored by the closure itself.
type call func(ctx context.Context) error

// parallel runs calls concurrently on the pool and returns the first error in
// submission order.
func (r *Reader) parallel(ctx context.Context, calls ...call) error {
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	errs := make([]error, len(calls))

	for i, c := range calls {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = c(groupCtx)
		})
	}

	waitErr := group.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, pond.ErrGroupStopped) {
		r.Logger.Warn("parallel read encountered error", zap.Error(waitErr))
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	// tasks of a cancelled group may never run
	if err := ctx.Err(); err != nil {
		return err
	}
	return waitErr
}

// tokenDecimals reads decimals() of an ERC-20 once per run.
func (r *Reader) tokenDecimals(ctx context.Context, token common.Address, height *big.Int) (uint8, error) {
	if d, ok := r.decimals.Load(token); ok {
		return d, nil
	}
	d, err := contracts.Bind(token, r.ABIs.ERC20, r.Client).CallUint8(ctx, height, "decimals")
	if err != nil {
		return 0, err
	}
	r.decimals.Store(token, d)
	return d, nil
}

func (r *Reader) balanceOf(ctx context.Context, token, owner common.Address, height *big.Int) (*big.Int, error) {
	return contracts.Bind(token, r.ABIs.ERC20, r.Client).CallBig(ctx, height, "balanceOf", owner)
}

// conversions evaluates, at one block, the native value of the whole balance
// and of the part of it that is not claimable yet.
type conversions struct {
	fromBalance *big.Int
	surplus     *big.Int
}

func (r *Reader) convert(ctx context.Context, c *contracts.Contract, method string, height, balance, needed *big.Int) (conversions, error) {
	out := conversions{fromBalance: new(big.Int), surplus: new(big.Int)}
	claimable := fixedpoint.Min(balance, needed)
	surplus := fixedpoint.Sub(balance, claimable)

	var calls []call
	if balance.Sign() > 0 {
		calls = append(calls, func(ctx context.Context) (err error) {
			out.fromBalance, err = c.CallBig(ctx, height, method, balance)
			return err
		})
	}
	// With nothing claimable the surplus is the whole balance.
	if surplus.Sign() > 0 && claimable.Sign() > 0 {
		calls = append(calls, func(ctx context.Context) (err error) {
			out.surplus, err = c.CallBig(ctx, height, method, surplus)
			return err
		})
	}
	if err := r.parallel(ctx, calls...); err != nil {
		return conversions{}, err
	}
	if surplus.Sign() > 0 && claimable.Sign() == 0 {
		out.surplus = new(big.Int).Set(out.fromBalance)
	}
	return out, nil
}

func height(block uint64) *big.Int {
	return new(big.Int).SetUint64(block)
}
