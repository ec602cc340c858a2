package rpc

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// ForkClient drives a hardhat or anvil node through its hardhat_* / evm_*
// control methods. It embeds HTTPClient so the forked state can be read with
// the same calls as the live chain.
type ForkClient struct {
	*HTTPClient
}

// DialFork connects to a fork-capable sandbox node.
func DialFork(ctx context.Context, o Opts) (*ForkClient, error) {
	c, err := Dial(ctx, o)
	if err != nil {
		return nil, err
	}
	return &ForkClient{HTTPClient: c}, nil
}

type forkingParams struct {
	JSONRPCURL  string  `json:"jsonRpcUrl"`
	BlockNumber *uint64 `json:"blockNumber,omitempty"`
}

type resetParams struct {
	Forking forkingParams `json:"forking"`
}

// Reset re-forks the sandbox from upstream at height (0 means upstream head).
func (c *ForkClient) Reset(ctx context.Context, upstream string, height uint64) error {
	p := resetParams{Forking: forkingParams{JSONRPCURL: upstream}}
	if height > 0 {
		p.Forking.BlockNumber = &height
	}
	return c.control(ctx, nil, "hardhat_reset", p)
}

// IncreaseTime moves the sandbox clock forward; it takes effect on the next block.
func (c *ForkClient) IncreaseTime(ctx context.Context, seconds uint64) error {
	return c.control(ctx, nil, "evm_increaseTime", seconds)
}

// Mine produces one block.
func (c *ForkClient) Mine(ctx context.Context) error {
	return c.control(ctx, nil, "evm_mine")
}

func (c *ForkClient) Impersonate(ctx context.Context, account common.Address) error {
	return c.control(ctx, nil, "hardhat_impersonateAccount", account)
}

func (c *ForkClient) StopImpersonating(ctx context.Context, account common.Address) error {
	return c.control(ctx, nil, "hardhat_stopImpersonatingAccount", account)
}

// SetBalance overwrites the native gas balance of account.
func (c *ForkClient) SetBalance(ctx context.Context, account common.Address, wei *big.Int) error {
	return c.control(ctx, nil, "hardhat_setBalance", account, hexutil.EncodeBig(wei))
}

type sendTxArgs struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Data hexutil.Bytes  `json:"data"`
}

// SendTransaction submits an unsigned transaction from an impersonated account.
func (c *ForkClient) SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.control(ctx, &hash, "eth_sendTransaction", sendTxArgs{From: from, To: to, Data: data}); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// Receipt returns the receipt for hash, or nil while it is pending.
func (c *ForkClient) Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, hash)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sandbox eth_getTransactionReceipt %s: %w", hash.Hex(), err)
	}
	return r, nil
}

func (c *ForkClient) control(ctx context.Context, result any, method string, args ...any) error {
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("sandbox %s: %w", method, err)
	}
	return nil
}
