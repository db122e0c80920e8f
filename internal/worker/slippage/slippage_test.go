package slippage

import (
	"math/big"
	"testing"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	user = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdc = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	weth = common.HexToAddress("0x4200000000000000000000000000000000000006")

	defaultThresholds = ThresholdsFromConfig(config.SlippageConfig{WarningPct: 1, CriticalPct: 5})
)

func record(id string, ts uint64, expected, actual int64) model.SlippageRecord {
	return NewRecord(model.SlippageEvent{
		User:           user,
		FromToken:      usdc,
		ToToken:        weth,
		ExpectedAmount: big.NewInt(expected),
		ActualAmount:   big.NewInt(actual),
	}, model.LogMeta{TxHash: id, TimestampSeconds: ts})
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		name      string
		expected  *big.Int
		actual    *big.Int
		want      string
		undefined bool
	}{
		{"two percent", big.NewInt(1000), big.NewInt(980), "2", false},
		{"truncates to bps", big.NewInt(3), big.NewInt(2), "33.33", false},
		{"no slippage", big.NewInt(1000), big.NewInt(1000), "0", false},
		{"better than expected", big.NewInt(1000), big.NewInt(1010), "-1", false},
		{"zero expected", big.NewInt(0), big.NewInt(10), "0", true},
		{"nil expected", nil, big.NewInt(10), "0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, undefined := Percentage(tt.expected, tt.actual)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), got.String())
			assert.Equal(t, tt.undefined, undefined)
		})
	}
}

func TestAlertThresholds_Level(t *testing.T) {
	tests := []struct {
		pct  string
		want model.AlertLevel
	}{
		{"0.5", model.AlertNone},
		{"1", model.AlertNone},
		{"1.01", model.AlertWarning},
		{"5", model.AlertWarning},
		{"5.01", model.AlertCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, defaultThresholds.Level(decimal.RequireFromString(tt.pct)), tt.pct)
	}
}

func TestAnalyze(t *testing.T) {
	records := []model.SlippageRecord{
		record("0xa", 100, 1000, 995), // 0.5%
		record("0xb", 300, 1000, 980), // 2%
		record("0xc", 200, 1000, 900), // 10%
		record("0xd", 50, 0, 10),      // undefined
		record("0xb", 300, 1000, 980), // 重复
		DegradedRecord(model.LogMeta{TxHash: "0xe", TimestampSeconds: 400}),
	}
	dca := []model.ActivityItem{
		{ID: "1", Kind: model.KindDCA, Token: &usdc, AmountRaw: big.NewInt(100), AmountKnown: true, TimestampSeconds: 10},
		{ID: "2", Kind: model.KindDCA, Token: &usdc, AmountRaw: big.NewInt(50), AmountKnown: true, TimestampSeconds: 30},
		{ID: "3", Kind: model.KindDCA, Token: &weth, AmountRaw: big.NewInt(7), AmountKnown: true, TimestampSeconds: 20},
		{ID: "4", Kind: model.KindDCA, Token: &weth, AmountRaw: big.NewInt(0), AmountKnown: false, TimestampSeconds: 5},
	}

	report := Analyze(user, records, dca, defaultThresholds)

	require.Len(t, report.Records, 5)
	assert.Equal(t, "0xe:0", report.Records[0].ID)
	assert.Equal(t, "0xb:0", report.Records[1].ID)

	assert.Equal(t, 5, report.Stats.Count)
	assert.Equal(t, 3, report.Stats.DefinedCount)
	assert.True(t, report.Stats.Min.Equal(decimal.RequireFromString("0.5")))
	assert.True(t, report.Stats.Max.Equal(decimal.NewFromInt(10)))
	assert.True(t, report.Stats.Average.Equal(decimal.RequireFromString("4.17")), report.Stats.Average.String())
	assert.Equal(t, 1, report.Stats.WarningCount)
	assert.Equal(t, 1, report.Stats.CriticalCount)

	require.Len(t, report.Alerts, 2)
	assert.Equal(t, model.AlertWarning, report.Alerts[0].Level)
	assert.Equal(t, model.AlertCritical, report.Alerts[1].Level)

	assert.Equal(t, 4, report.DCA.Executions)
	assert.Equal(t, "150", report.DCA.VolumeByToken[usdc])
	assert.Equal(t, "7", report.DCA.VolumeByToken[weth])
	assert.Equal(t, uint64(30), report.DCA.LastExecutedAt)
}

func TestAnalyze_Empty(t *testing.T) {
	report := Analyze(user, nil, nil, defaultThresholds)
	assert.Empty(t, report.Records)
	assert.Empty(t, report.Alerts)
	assert.True(t, report.Stats.Average.IsZero())
	assert.Equal(t, 0, report.DCA.Executions)
}
