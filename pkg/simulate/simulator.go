// Package simulate projects a stream's state after a claim by executing the
// claim on a forked copy of the chain.
package simulate

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/woof-software/streamer-report/pkg/contracts"
	"github.com/woof-software/streamer-report/pkg/fixedpoint"
	"github.com/woof-software/streamer-report/pkg/retry"
	"github.com/woof-software/streamer-report/pkg/rpc"
	"github.com/woof-software/streamer-report/pkg/stream"
)

// Stages of a simulation, reported in Error.
const (
	StageReset     = "reset"
	StageAdvance   = "advance time"
	StageRecipient = "read recipient"
	StageFund      = "fund recipient"
	StageClaim     = "send claim"
	StageReceipt   = "await receipt"
	StageSupplied  = "read supplied"
)

// GasAllowance is the ETH balance given to the impersonated recipient.
var GasAllowance = new(big.Int).Mul(big.NewInt(10), fixedpoint.Pow10(18))

// ErrLiveEndpoint is returned when the sandbox would run against the live node.
var ErrLiveEndpoint = errors.New("sandbox endpoint must differ from the live endpoint")

// Error reports a failed simulation step.
type Error struct {
	Target stream.Target
	Stage  string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("simulate claim %s (%s) at %s: %v", e.Target.Vendor, e.Target.Address.Hex(), e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Simulator owns the fork sandbox. Callers must not run two simulations on the
// same sandbox at once.
type Simulator struct {
	Sandbox      rpc.Sandbox
	LiveEndpoint string
	ABIs         contracts.Set
	// TimeAdvance is how far the fork clock moves before claiming.
	TimeAdvance time.Duration
	Poll        retry.Config
	Logger      *zap.Logger
}

// New validates that sandbox is isolated from live and returns a simulator.
func New(sandbox rpc.Sandbox, live string, abis contracts.Set, advance time.Duration, logger *zap.Logger) (*Simulator, error) {
	if sandbox == nil {
		return nil, errors.New("simulate: no sandbox")
	}
	if sameEndpoint(sandbox.Endpoint(), live) {
		return nil, ErrLiveEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		Sandbox:      sandbox,
		LiveEndpoint: live,
		ABIs:         abis,
		TimeAdvance:  advance,
		Poll:         retry.DefaultConfig(),
		Logger:       logger,
	}, nil
}

// Simulate forks the chain at forkBlock (0 for latest), claims as the stream's
// recipient and returns the native value still to be supplied afterwards.
func (s *Simulator) Simulate(ctx context.Context, target stream.Target, facts *stream.Facts, forkBlock uint64) (*big.Int, error) {
	if sameEndpoint(s.Sandbox.Endpoint(), s.LiveEndpoint) {
		return nil, &Error{Target: target, Stage: StageReset, Err: ErrLiveEndpoint}
	}
	fail := func(stage string, err error) (*big.Int, error) {
		return nil, &Error{Target: target, Stage: stage, Err: err}
	}

	parsed, err := s.ABIs.For(target.Version)
	if err != nil {
		return fail(StageReset, err)
	}
	c := contracts.Bind(target.Address, parsed, s.Sandbox)

	if err := s.Sandbox.Reset(ctx, s.LiveEndpoint, forkBlock); err != nil {
		return fail(StageReset, err)
	}
	if secs := uint64(s.TimeAdvance / time.Second); secs > 0 {
		if err := s.Sandbox.IncreaseTime(ctx, secs); err != nil {
			return fail(StageAdvance, err)
		}
	}
	if err := s.Sandbox.Mine(ctx); err != nil {
		return fail(StageAdvance, err)
	}

	recipient, err := c.CallAddress(ctx, nil, target.Version.RecipientMethod())
	if err != nil {
		return fail(StageRecipient, err)
	}

	if err := s.Sandbox.Impersonate(ctx, recipient); err != nil {
		return fail(StageFund, err)
	}
	defer func() {
		// logged only: the next Reset clears impersonation state
		if err := s.Sandbox.StopImpersonating(context.WithoutCancel(ctx), recipient); err != nil {
			s.Logger.Warn("stop impersonating failed",
				zap.String("account", recipient.Hex()),
				zap.Error(err))
		}
	}()
	if err := s.Sandbox.SetBalance(ctx, recipient, GasAllowance); err != nil {
		return fail(StageFund, err)
	}

	data, err := parsed.Pack("claim")
	if err != nil {
		return fail(StageClaim, err)
	}
	hash, err := s.Sandbox.SendTransaction(ctx, recipient, target.Address, data)
	if err != nil {
		return fail(StageClaim, err)
	}

	receipt, err := s.awaitReceipt(ctx, hash)
	if err != nil {
		return fail(StageReceipt, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(StageReceipt, fmt.Errorf("claim %s reverted", hash.Hex()))
	}

	supplied, err := c.CallBig(ctx, nil, target.Version.SuppliedMethod())
	if err != nil {
		return fail(StageSupplied, err)
	}

	remaining := fixedpoint.ClampZero(fixedpoint.Sub(fixedpoint.OrZero(facts.TotalNative), supplied))
	s.Logger.Info("simulated claim",
		zap.String("vendor", target.Vendor),
		zap.String("stream", target.Address.Hex()),
		zap.String("tx", hash.Hex()),
		zap.Uint64("gas_used", receipt.GasUsed),
		zap.String("remaining", remaining.String()))
	return remaining, nil
}

func (s *Simulator) awaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var receipt *types.Receipt
	err := retry.WithBackoff(ctx, s.Poll, s.Logger, "claim receipt", func() error {
		r, err := s.Sandbox.Receipt(ctx, hash)
		if err != nil {
			return retry.Permanent(err)
		}
		if r == nil {
			return retry.ErrPending
		}
		receipt = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func sameEndpoint(a, b string) bool {
	return normalize(a) == normalize(b)
}

func normalize(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(endpoint), "/")
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + strings.TrimRight(u.Path, "/") + "?" + u.RawQuery
}
