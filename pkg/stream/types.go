package stream

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Version is the closed set of streamer contract generations. Supporting a new
// generation means adding a constant here and a normalization path in the facts
// reader.
type Version string

const (
	V1 Version = "v1"
	V2 Version = "v2"
)

// ParseVersion validates a version string.
func ParseVersion(s string) (Version, error) {
	switch v := Version(strings.ToLower(strings.TrimSpace(s))); v {
	case V1, V2:
		return v, nil
	default:
		return "", fmt.Errorf("unsupported stream version %q", s)
	}
}

// ClaimFields returns the names of the (streaming, native) amount fields of the
// Claimed event for this version.
func (v Version) ClaimFields() (streaming, native string) {
	if v == V1 {
		return "compAmount", "usdcAmount"
	}
	return "streamingAssetAmount", "nativeAssetAmount"
}

// RecipientMethod is the getter for the address allowed to claim.
func (v Version) RecipientMethod() string {
	if v == V1 {
		return "RECEIVER"
	}
	return "recipient"
}

// SuppliedMethod is the getter for the native amount already paid out.
func (v Version) SuppliedMethod() string {
	if v == V1 {
		return "suppliedAmount"
	}
	return "nativeAssetSuppliedAmount"
}

// ClaimAsset is the denomination a stream pays its native value in.
type ClaimAsset string

const (
	ClaimAssetUSDC    ClaimAsset = "USDC"
	ClaimAssetUSD     ClaimAsset = "USD"
	ClaimAssetUnknown ClaimAsset = "UNKNOWN"
)

// Target is one registry entry.
type Target struct {
	Address common.Address
	// Configured is the address as written in the registry, if any.
	Configured string
	Vendor     string
	Version    Version
}

// ConfiguredAddress returns the address as it was configured, falling back to
// the checksummed form.
func (t Target) ConfiguredAddress() string {
	if t.Configured != "" {
		return t.Configured
	}
	return t.Address.Hex()
}

// Assets are the well-known addresses the report classifies against.
type Assets struct {
	// Comp is the canonical governance token, streamed by every v1 contract.
	Comp common.Address
	// V1Native is the asset v1 streams denominate their value in.
	V1Native common.Address
	// USDCOracle and USDOracle identify v2 native asset oracles.
	USDCOracle common.Address
	USDOracle  common.Address
}

// ClassifyOracle maps a v2 native asset oracle to its claim asset.
func (a Assets) ClassifyOracle(oracle common.Address) ClaimAsset {
	switch oracle {
	case a.USDCOracle:
		return ClaimAssetUSDC
	case a.USDOracle:
		return ClaimAssetUSD
	default:
		return ClaimAssetUnknown
	}
}

// Registry is the ordered list of streams a report covers.
type Registry struct {
	Assets  Assets
	Targets []Target
}

// ClaimTotals sums every Claimed event in a block range.
type ClaimTotals struct {
	Streaming *big.Int
	Native    *big.Int
	// Logs is the number of logs returned by the node, Skipped the number that
	// could not be decoded.
	Logs    int
	Skipped int
}

// ZeroClaimTotals returns empty totals.
func ZeroClaimTotals() ClaimTotals {
	return ClaimTotals{Streaming: new(big.Int), Native: new(big.Int)}
}
