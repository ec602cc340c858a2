// Package deficit derives funding metrics from a stream snapshot. Every
// function here is pure; all on-chain conversions are already in the facts.
package deficit

import (
	"math/big"

	"github.com/woof-software/streamer-report/pkg/fixedpoint"
	"github.com/woof-software/streamer-report/pkg/stream"
)

// SecondsPerDay converts second-based metrics into report days.
const SecondsPerDay = 86_400

// Metrics are the funding figures of one stream. Amounts are native units
// unless named Streaming; durations are seconds.
type Metrics struct {
	ClaimableStreaming *big.Int
	ClaimableNative    *big.Int
	NativeFromBalance  *big.Int

	RemainingSeconds *big.Int
	BudgetSeconds    *big.Int
	DeficitSeconds   *big.Int

	RequiredTopUp *big.Int
	// UnclaimableValue and TotalBudget are reconciliation estimates, not
	// protocol quantities.
	UnclaimableValue *big.Int
	TotalBudget      *big.Int
}

// Compute evaluates the metrics of f. Divisions truncate and always follow
// the multiplications they depend on.
func Compute(f *stream.Facts) Metrics {
	balance := fixedpoint.OrZero(f.StreamingBalance)
	needed := fixedpoint.OrZero(f.StreamingForOwed)
	nominal := fixedpoint.OrZero(f.NominalNative)
	total := fixedpoint.OrZero(f.TotalNative)
	supplied := fixedpoint.OrZero(f.SuppliedNative)
	fromBalance := new(big.Int).Set(fixedpoint.OrZero(f.NativeFromBalance))
	duration := new(big.Int).SetUint64(f.Duration)

	m := Metrics{
		ClaimableStreaming: fixedpoint.Min(balance, needed),
		NativeFromBalance:  fromBalance,
	}
	if balance.Cmp(needed) < 0 {
		m.ClaimableNative = new(big.Int).Set(fromBalance)
	} else {
		m.ClaimableNative = new(big.Int).Set(fixedpoint.OrZero(f.OwedNative))
	}

	m.RemainingSeconds = Remaining(f.End, f.Now)
	m.BudgetSeconds = fixedpoint.MulDiv(fromBalance, duration, nominal)
	m.DeficitSeconds = fixedpoint.ClampZero(fixedpoint.Sub(m.RemainingSeconds, m.BudgetSeconds))

	outstanding := fixedpoint.Sub(total, supplied)
	m.RequiredTopUp = fixedpoint.ClampZero(outstanding.Sub(outstanding, fromBalance))

	scheduled := fixedpoint.MulDiv(total, m.RemainingSeconds, duration)
	m.UnclaimableValue = fixedpoint.Min(scheduled, fixedpoint.OrZero(f.SurplusNative))

	m.TotalBudget = new(big.Int).Set(supplied)
	m.TotalBudget.Add(m.TotalBudget, m.ClaimableNative)
	m.TotalBudget.Add(m.TotalBudget, m.UnclaimableValue)
	m.TotalBudget.Add(m.TotalBudget, m.RequiredTopUp)
	return m
}

// Remaining is max(end-now, 0) in seconds. An unset end yields 0.
func Remaining(end, now uint64) *big.Int {
	if end <= now {
		return new(big.Int)
	}
	return new(big.Int).SetUint64(end - now)
}

// Days renders seconds as days truncated to four decimals.
func Days(seconds *big.Int) string {
	return fixedpoint.RatioToDecimalString(seconds, big.NewInt(SecondsPerDay), 4)
}
