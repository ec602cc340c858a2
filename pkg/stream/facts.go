package stream

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Facts is the version-independent snapshot of one stream at one block. All
// amounts are raw integers in the decimals of their asset. The conversions
// between streaming and native value are evaluated on chain at the same block
// and stored as values, so everything derived from Facts is a pure function.
type Facts struct {
	Target Target
	Block  uint64
	// Now is the timestamp of Block.
	Now uint64

	StreamingAsset  common.Address
	StreamingIsComp bool
	ClaimAsset      ClaimAsset

	NativeDecimals    uint8
	StreamingDecimals uint8
	CompDecimals      uint8

	// NominalNative is the configured stream total; TotalNative is the total
	// after an early end, never larger than NominalNative.
	NominalNative  *big.Int
	TotalNative    *big.Int
	SuppliedNative *big.Int
	OwedNative     *big.Int

	Start    uint64
	Duration uint64
	// End is the effective end of the schedule, 0 while the stream is not started.
	End uint64

	StreamingBalance *big.Int
	CompBalance      *big.Int
	// StreamingForOwed is the streaming amount needed to pay OwedNative.
	StreamingForOwed *big.Int

	// NativeFromBalance is the native value of the whole streaming balance.
	NativeFromBalance *big.Int
	// SurplusNative is the native value of the balance beyond what is claimable now.
	SurplusNative *big.Int
}

// ClaimableStreaming is the streaming amount a claim would transfer now.
func (f *Facts) ClaimableStreaming() *big.Int {
	if f.StreamingBalance.Cmp(f.StreamingForOwed) < 0 {
		return new(big.Int).Set(f.StreamingBalance)
	}
	return new(big.Int).Set(f.StreamingForOwed)
}

// Underfunded reports whether the balance cannot cover what is owed.
func (f *Facts) Underfunded() bool {
	return f.StreamingBalance.Cmp(f.StreamingForOwed) < 0
}

// ClaimableNative is the native value a claim would settle now.
func (f *Facts) ClaimableNative() *big.Int {
	if f.Underfunded() {
		return new(big.Int).Set(f.NativeFromBalance)
	}
	return new(big.Int).Set(f.OwedNative)
}

// NominalEnd is start+duration, or 0 when the stream has not started.
func (f *Facts) NominalEnd() uint64 {
	if f.Start == 0 {
		return 0
	}
	return f.Start + f.Duration
}

// EffectiveTotal scales nominal by the shortened schedule when end precedes
// start+duration. The result never exceeds nominal.
func EffectiveTotal(nominal *big.Int, start, duration, end uint64) *big.Int {
	if start == 0 || end == 0 || duration == 0 || end >= start+duration {
		return new(big.Int).Set(nominal)
	}
	if end <= start {
		return new(big.Int)
	}
	out := new(big.Int).Mul(nominal, new(big.Int).SetUint64(end-start))
	return out.Quo(out, new(big.Int).SetUint64(duration))
}
