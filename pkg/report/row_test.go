package report

import (
	"bytes"
	"encoding/csv"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woof-software/streamer-report/pkg/deficit"
	"github.com/woof-software/streamer-report/pkg/stream"
)

func sampleFacts() *stream.Facts {
	return &stream.Facts{
		Target: stream.Target{
			Address: common.HexToAddress("0x334791289a906Ac8f96ac0f90E7A91Bf4AaE4A60"),
			Vendor:  "SSP",
			Version: stream.V2,
		},
		Now:               1_700_000_000,
		StreamingIsComp:   true,
		ClaimAsset:        stream.ClaimAssetUSDC,
		NativeDecimals:    6,
		StreamingDecimals: 18,
		CompDecimals:      18,
		NominalNative:     big.NewInt(1_000_000_000_000),
		TotalNative:       big.NewInt(1_000_000_000_000),
		SuppliedNative:    big.NewInt(250_500_000_000),
		OwedNative:        big.NewInt(1_000_000),
		Start:             1_690_000_000,
		Duration:          31_536_000,
		End:               1_721_536_000,
		StreamingBalance:  new(big.Int).Mul(big.NewInt(15), big.NewInt(1e18)),
		CompBalance:       new(big.Int).Mul(big.NewInt(15), big.NewInt(1e18)),
		StreamingForOwed:  big.NewInt(25_000_000_000_000_000),
		NativeFromBalance: big.NewInt(600_000_000),
		SurplusNative:     big.NewInt(599_000_000),
	}
}

func TestBuildRow(t *testing.T) {
	f := sampleFacts()
	claims := stream.ClaimTotals{
		Streaming: new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18)),
		Native:    big.NewInt(120_000_000),
		Logs:      2,
	}
	row := BuildRow(f, claims, deficit.Compute(f), nil)

	assert.Equal(t, "0x334791289a906Ac8f96ac0f90E7A91Bf4AaE4A60", row.Address)
	assert.Equal(t, "SSP", row.Vendor)
	assert.Equal(t, "USDC", row.ClaimAsset)
	assert.Equal(t, "250500", row.ClaimedAmount)
	assert.Equal(t, "15", row.CompBalance)
	assert.Equal(t, "0.025", row.ClaimableComp)
	assert.Equal(t, "1", row.ClaimableNative)
	assert.Equal(t, "1721536000", row.FinishTs)
	assert.Equal(t, "2024-07-21T04:26:40.000Z", row.FinishUTC)
	assert.Equal(t, "40", row.AvgClaimPrice)
	assert.Empty(t, row.SimulatedRemaining)
	assert.Len(t, row.Record(), len(Header))
}

func TestBuildRowWritesAddressAsConfigured(t *testing.T) {
	f := sampleFacts()
	f.Target.Configured = "0x334791289a906ac8f96ac0f90e7a91bf4aae4a60"
	row := BuildRow(f, stream.ZeroClaimTotals(), deficit.Compute(f), nil)
	assert.Equal(t, "0x334791289a906ac8f96ac0f90e7a91bf4aae4a60", row.Address)
}

func TestBuildRowNonCompAndSimulated(t *testing.T) {
	f := sampleFacts()
	f.StreamingIsComp = false
	f.End = 0
	row := BuildRow(f, stream.ZeroClaimTotals(), deficit.Compute(f), big.NewInt(1_500_000))

	assert.Equal(t, NotComp, row.ClaimableComp)
	assert.Equal(t, "0", row.FinishTs)
	assert.Equal(t, NotInitialized, row.FinishUTC)
	assert.Equal(t, "0", row.AvgClaimPrice)
	assert.Equal(t, "1.5", row.SimulatedRemaining)
	assert.Equal(t, "0", row.DaysDeficit)
}

func TestAvgClaimPrice(t *testing.T) {
	claims := stream.ClaimTotals{Streaming: big.NewInt(3_000_000_000_000_000_000 / 1_000), Native: big.NewInt(1_000_000)}
	// 1 USDC for 0.003 COMP
	assert.Equal(t, "333.333333", AvgClaimPrice(claims, 18, 6))
	assert.Equal(t, "0", AvgClaimPrice(stream.ZeroClaimTotals(), 18, 6))
}

func TestEncode(t *testing.T) {
	f := sampleFacts()
	f.Target.Vendor = `Vendor, "Quoted"`
	row := BuildRow(f, stream.ZeroClaimTotals(), deficit.Compute(f), nil)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []Row{row}))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, Header, records[0])
	assert.Equal(t, `Vendor, "Quoted"`, records[1][1])
	assert.Len(t, records[1], 16)
}

func TestWriteFileReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "report.csv")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0o644))

	f := sampleFacts()
	require.NoError(t, WriteFile(path, []Row{BuildRow(f, stream.ZeroClaimTotals(), deficit.Compute(f), nil)}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "address,vendor,claim asset")
	assert.Contains(t, string(raw), "SSP")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFileMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "report.csv")
	assert.Error(t, WriteFile(path, nil))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
