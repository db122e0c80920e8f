package metrics

import (
	"fmt"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/model"

	"github.com/shopspring/decimal"
)

var gweiToNative = decimal.New(1, -9)

// GasSavingsEstimate 批量提交节省的 gas 费用估算，不是账本事实
func GasSavingsEstimate(txCount int, cfg config.EstimateConfig, assetPriceUSD decimal.Decimal) model.Estimate {
	if txCount < 0 {
		txCount = 0
	}
	gasPrice := decimal.NewFromFloat(cfg.AssumedGasPriceGwei)
	value := decimal.NewFromInt(int64(txCount)).
		Mul(decimal.NewFromInt(int64(cfg.GasUnitsSavedPerBatchedTx))).
		Mul(gasPrice).
		Mul(gweiToNative).
		Mul(assetPriceUSD)

	symbol := cfg.NativeSymbol
	if symbol == "" {
		symbol = "ETH"
	}
	return model.Estimate{
		Label:      "Estimated gas savings",
		ValueUSD:   value,
		IsEstimate: true,
		Basis: fmt.Sprintf("%d tx x %d gas x %s gwei x $%s/%s",
			txCount, cfg.GasUnitsSavedPerBatchedTx, gasPrice.String(), assetPriceUSD.String(), symbol),
	}
}

// TotalsByKind 每种类型的金额合计
func TotalsByKind(items []model.ActivityItem) map[model.Kind]decimal.Decimal {
	totals := make(map[model.Kind]decimal.Decimal)
	for _, item := range items {
		totals[item.Kind] = totals[item.Kind].Add(item.AmountDecimal)
	}
	return totals
}
