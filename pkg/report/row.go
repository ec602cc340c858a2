package report

import (
	"math/big"
	"time"

	"github.com/woof-software/streamer-report/pkg/deficit"
	"github.com/woof-software/streamer-report/pkg/fixedpoint"
	"github.com/woof-software/streamer-report/pkg/stream"
)

const (
	// NotInitialized is rendered for streams without an end timestamp.
	NotInitialized = "not initialized"
	// NotComp replaces the COMP claimable amount of streams paying another asset.
	NotComp = "n/a (streaming asset is not COMP)"

	utcLayout      = "2006-01-02T15:04:05.000Z"
	pricePrecision = 6
)

// Header is the fixed column order of the report.
var Header = []string{
	"address",
	"vendor",
	"claim asset",
	"claimed amount",
	"comp balance",
	"Available to claim COMP",
	"available to claim",
	"Stream finishes ts",
	"Stream finishes utc",
	"Budget for days",
	"Days deficit",
	"Required top up",
	"Avg claim COMP price",
	"Unclaimable value",
	"Total budget",
	"Simulated remaining",
}

// Row is one rendered report line.
type Row struct {
	Address            string
	Vendor             string
	ClaimAsset         string
	ClaimedAmount      string
	CompBalance        string
	ClaimableComp      string
	ClaimableNative    string
	FinishTs           string
	FinishUTC          string
	BudgetDays         string
	DaysDeficit        string
	RequiredTopUp      string
	AvgClaimPrice      string
	UnclaimableValue   string
	TotalBudget        string
	SimulatedRemaining string
}

// Record returns the row in Header order.
func (r Row) Record() []string {
	return []string{
		r.Address,
		r.Vendor,
		r.ClaimAsset,
		r.ClaimedAmount,
		r.CompBalance,
		r.ClaimableComp,
		r.ClaimableNative,
		r.FinishTs,
		r.FinishUTC,
		r.BudgetDays,
		r.DaysDeficit,
		r.RequiredTopUp,
		r.AvgClaimPrice,
		r.UnclaimableValue,
		r.TotalBudget,
		r.SimulatedRemaining,
	}
}

// BuildRow renders facts, claim totals and metrics. simulated may be nil.
func BuildRow(f *stream.Facts, claims stream.ClaimTotals, m deficit.Metrics, simulated *big.Int) Row {
	native := func(v *big.Int) string {
		return fixedpoint.FormatUnits(fixedpoint.OrZero(v), f.NativeDecimals)
	}

	row := Row{
		Address:          f.Target.ConfiguredAddress(),
		Vendor:           f.Target.Vendor,
		ClaimAsset:       string(f.ClaimAsset),
		ClaimedAmount:    native(f.SuppliedNative),
		CompBalance:      fixedpoint.FormatUnits(fixedpoint.OrZero(f.CompBalance), f.CompDecimals),
		ClaimableComp:    NotComp,
		ClaimableNative:  native(m.ClaimableNative),
		BudgetDays:       deficit.Days(m.BudgetSeconds),
		DaysDeficit:      deficit.Days(m.DeficitSeconds),
		RequiredTopUp:    native(m.RequiredTopUp),
		AvgClaimPrice:    AvgClaimPrice(claims, f.StreamingDecimals, f.NativeDecimals),
		UnclaimableValue: native(m.UnclaimableValue),
		TotalBudget:      native(m.TotalBudget),
	}
	if f.StreamingIsComp {
		row.ClaimableComp = fixedpoint.FormatUnits(m.ClaimableStreaming, f.StreamingDecimals)
	}
	row.FinishTs, row.FinishUTC = FormatFinish(f.End)
	if simulated != nil {
		row.SimulatedRemaining = native(simulated)
	}
	return row
}

// FormatFinish renders a unix timestamp as seconds and UTC time with
// millisecond precision.
func FormatFinish(ts uint64) (string, string) {
	if ts == 0 {
		return "0", NotInitialized
	}
	return new(big.Int).SetUint64(ts).String(), time.Unix(int64(ts), 0).UTC().Format(utcLayout)
}

// AvgClaimPrice is the native value paid per whole streaming token across all
// claims, or "0" when nothing was claimed.
func AvgClaimPrice(claims stream.ClaimTotals, streamingDecimals, nativeDecimals uint8) string {
	streaming := fixedpoint.OrZero(claims.Streaming)
	if streaming.Sign() == 0 {
		return "0"
	}
	num := new(big.Int).Mul(fixedpoint.OrZero(claims.Native), fixedpoint.Pow10(streamingDecimals))
	den := new(big.Int).Mul(streaming, fixedpoint.Pow10(nativeDecimals))
	return fixedpoint.RatioToDecimalString(num, den, pricePrecision)
}
