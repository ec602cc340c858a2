package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/woof-software/streamer-report/pkg/rpc"
)

// Caller executes read-only calls. rpc.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, height *big.Int) ([]byte, error)
}

// Contract is an ABI bound to an address.
type Contract struct {
	Address common.Address
	ABI     abi.ABI
	caller  Caller
}

// Bind ties an ABI to an address and a caller.
func Bind(address common.Address, parsed abi.ABI, caller Caller) *Contract {
	return &Contract{Address: address, ABI: parsed, caller: caller}
}

// Call packs method, executes it at height and unpacks the outputs.
func (c *Contract) Call(ctx context.Context, height *big.Int, method string, args ...any) ([]any, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	to := c.Address
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, height)
	if err != nil {
		return nil, err
	}
	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, &rpc.ReadError{Op: fmt.Sprintf("%s.%s", c.Address.Hex(), method), Err: err}
	}
	if len(values) == 0 {
		return nil, &rpc.ReadError{Op: fmt.Sprintf("%s.%s", c.Address.Hex(), method), Err: fmt.Errorf("empty result")}
	}
	return values, nil
}

// CallBig calls a method returning a single integer.
func (c *Contract) CallBig(ctx context.Context, height *big.Int, method string, args ...any) (*big.Int, error) {
	values, err := c.Call(ctx, height, method, args...)
	if err != nil {
		return nil, err
	}
	v, err := ToBig(values[0])
	if err != nil {
		return nil, c.malformed(method, err)
	}
	return v, nil
}

// CallUint64 calls a method returning a single integer that fits in 64 bits.
func (c *Contract) CallUint64(ctx context.Context, height *big.Int, method string, args ...any) (uint64, error) {
	v, err := c.CallBig(ctx, height, method, args...)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, c.malformed(method, fmt.Errorf("value %s out of uint64 range", v))
	}
	return v.Uint64(), nil
}

// CallUint8 calls a method returning token decimals.
func (c *Contract) CallUint8(ctx context.Context, height *big.Int, method string, args ...any) (uint8, error) {
	v, err := c.CallBig(ctx, height, method, args...)
	if err != nil {
		return 0, err
	}
	if v.Sign() < 0 || v.Cmp(big.NewInt(255)) > 0 {
		return 0, c.malformed(method, fmt.Errorf("value %s out of uint8 range", v))
	}
	return uint8(v.Uint64()), nil
}

// CallAddress calls a method returning a single address.
func (c *Contract) CallAddress(ctx context.Context, height *big.Int, method string, args ...any) (common.Address, error) {
	values, err := c.Call(ctx, height, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, c.malformed(method, fmt.Errorf("unexpected type %T", values[0]))
	}
	return addr, nil
}

func (c *Contract) malformed(method string, err error) error {
	return &rpc.ReadError{Op: fmt.Sprintf("%s.%s", c.Address.Hex(), method), Err: err}
}

// ToBig converts an unpacked ABI integer to *big.Int. Integers up to 64 bits are
// unpacked as native Go types, wider ones as *big.Int.
func ToBig(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(n), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	default:
		return nil, fmt.Errorf("unexpected integer type %T", v)
	}
}
