package rpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client captures the read-only chain calls used when building a report.
// Every call that reads state takes an explicit height so a whole report can be
// pinned to a single block.
type Client interface {
	ChainHead(ctx context.Context) (uint64, error)
	// BlockTime returns the header timestamp of the block at height, or
	// ErrBlockNotFound when the node has no such block.
	BlockTime(ctx context.Context, height uint64) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, height *big.Int) ([]byte, error)
}

// Sandbox is a fork-capable node (hardhat or anvil) used for what-if execution.
// It is never pointed at the live endpoint.
type Sandbox interface {
	Client
	Endpoint() string
	Reset(ctx context.Context, upstream string, height uint64) error
	IncreaseTime(ctx context.Context, seconds uint64) error
	Mine(ctx context.Context) error
	Impersonate(ctx context.Context, account common.Address) error
	StopImpersonating(ctx context.Context, account common.Address) error
	SetBalance(ctx context.Context, account common.Address, wei *big.Int) error
	SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error)
	// Receipt returns nil without error while the transaction is still pending.
	Receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
