package contracts

import (
	"bytes"
	"embed"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/woof-software/streamer-report/pkg/stream"
)

//go:embed abi/*.json
var abiFS embed.FS

// Set holds the interface descriptors a report run needs.
type Set struct {
	V1    abi.ABI
	V2    abi.ABI
	ERC20 abi.ABI
}

// For returns the streamer ABI of a version.
func (s Set) For(v stream.Version) (abi.ABI, error) {
	switch v {
	case stream.V1:
		return s.V1, nil
	case stream.V2:
		return s.V2, nil
	default:
		return abi.ABI{}, fmt.Errorf("no ABI for stream version %q", v)
	}
}

// LoadSet parses the streamer descriptors from v1Path and v2Path. An empty path
// selects the descriptor bundled with the binary.
func LoadSet(v1Path, v2Path string) (Set, error) {
	v1, err := loadOrDefault(v1Path, "abi/streamer.v1.json")
	if err != nil {
		return Set{}, err
	}
	v2, err := loadOrDefault(v2Path, "abi/streamer.v2.json")
	if err != nil {
		return Set{}, err
	}
	erc20, err := loadOrDefault("", "abi/erc20.json")
	if err != nil {
		return Set{}, err
	}
	return Set{V1: v1, V2: v2, ERC20: erc20}, nil
}

// DefaultSet returns the bundled descriptors.
func DefaultSet() (Set, error) {
	return LoadSet("", "")
}

func loadOrDefault(path, embedded string) (abi.ABI, error) {
	var (
		raw []byte
		err error
	)
	if path != "" {
		raw, err = os.ReadFile(path)
	} else {
		raw, err = abiFS.ReadFile(embedded)
		path = embedded
	}
	if err != nil {
		return abi.ABI{}, fmt.Errorf("read abi %s: %w", path, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi %s: %w", path, err)
	}
	return parsed, nil
}
