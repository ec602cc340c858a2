package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// HTTPClient is a read-only JSON-RPC client backed by go-ethereum's ethclient and
// a throttled HTTP transport.
type HTTPClient struct {
	endpoint string
	rpc      *gethrpc.Client
	eth      *ethclient.Client
}

// Opts is the set of options for a new HTTPClient.
type Opts struct {
	Endpoint string
	Timeout  time.Duration
	RPS      int
	Burst    int
	// HTTPClient overrides the underlying client; its transport is still throttled.
	HTTPClient *http.Client
}

// Dial connects to the endpoint in o. No request is sent until the first call.
func Dial(ctx context.Context, o Opts) (*HTTPClient, error) {
	if strings.TrimSpace(o.Endpoint) == "" {
		return nil, fmt.Errorf("no endpoint configured")
	}
	if o.RPS <= 0 {
		o.RPS = 20
	}
	if o.Burst <= 0 {
		o.Burst = 40
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}

	base := http.DefaultTransport
	client := &http.Client{Timeout: o.Timeout}
	if o.HTTPClient != nil {
		if o.HTTPClient.Transport != nil {
			base = o.HTTPClient.Transport
		}
		if o.HTTPClient.Timeout > 0 {
			client.Timeout = o.HTTPClient.Timeout
		}
	}
	client.Transport = newThrottledTransport(base, o.RPS, o.Burst)

	rc, err := gethrpc.DialOptions(ctx, o.Endpoint, gethrpc.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", o.Endpoint, err)
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(o.Endpoint, "/"),
		rpc:      rc,
		eth:      ethclient.NewClient(rc),
	}, nil
}

// Endpoint returns the normalized endpoint URL.
func (c *HTTPClient) Endpoint() string { return c.endpoint }

// Close releases the underlying connection.
func (c *HTTPClient) Close() { c.rpc.Close() }

// ChainHead returns the latest block number.
func (c *HTTPClient) ChainHead(ctx context.Context) (uint64, error) {
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, &ReadError{Op: "eth_blockNumber", Err: err}
	}
	return n, nil
}

// blockTime is the subset of a block we decode; full headers differ between
// clients and chains.
type blockTime struct {
	Number    hexutil.Uint64 `json:"number"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

// BlockTime returns the timestamp of the block at height.
func (c *HTTPClient) BlockTime(ctx context.Context, height uint64) (uint64, error) {
	var head *blockTime
	if err := c.rpc.CallContext(ctx, &head, "eth_getBlockByNumber", hexutil.EncodeUint64(height), false); err != nil {
		return 0, &ReadError{Op: fmt.Sprintf("eth_getBlockByNumber(%d)", height), Err: err}
	}
	if head == nil {
		return 0, ErrBlockNotFound
	}
	return uint64(head.Timestamp), nil
}

// FilterLogs returns the logs matching q.
func (c *HTTPClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, &ReadError{Op: fmt.Sprintf("eth_getLogs(%s..%s)", q.FromBlock, q.ToBlock), Err: err}
	}
	return logs, nil
}

// CallContract executes a read-only call at height (nil means latest).
func (c *HTTPClient) CallContract(ctx context.Context, msg ethereum.CallMsg, height *big.Int) ([]byte, error) {
	out, err := c.eth.CallContract(ctx, msg, height)
	if err != nil {
		to := "<nil>"
		if msg.To != nil {
			to = msg.To.Hex()
		}
		return nil, &ReadError{Op: "eth_call " + to, Err: err}
	}
	return out, nil
}

// isNotFound reports whether err means the node has no such object.
func isNotFound(err error) bool {
	return errors.Is(err, ethereum.NotFound)
}
