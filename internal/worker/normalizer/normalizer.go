package normalizer

import (
	"errors"
	"fmt"
	"math/big"

	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/monitor"
	"oneseed-engine/pkg/utils"
	getonchaininfo "oneseed-engine/pkg/utils/get_onchain_info"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

const defaultDecimals uint8 = 18

var (
	ErrUnknownKind     = errors.New("unknown event kind")
	ErrTopicMismatch   = errors.New("event signature mismatch")
	ErrMissingTopics   = errors.New("missing indexed arguments")
	ErrMalformedData   = errors.New("malformed event data")
	ErrUnexpectedValue = errors.New("unexpected argument type")
)

// NormalizationError 日志无法完整解码，对应的记录已降级为零值
type NormalizationError struct {
	Kind     model.Kind
	TxHash   string
	LogIndex uint
	Err      error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize %s log %s:%d: %v", e.Kind, e.TxHash, e.LogIndex, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// TokenLookup 代币元数据来源
type TokenLookup interface {
	Metadata(token common.Address) (getonchaininfo.TokenMetadata, bool)
}

// StaticTokens 固定的代币表
type StaticTokens map[common.Address]getonchaininfo.TokenMetadata

func (s StaticTokens) Metadata(token common.Address) (getonchaininfo.TokenMetadata, bool) {
	meta, ok := s[token]
	return meta, ok
}

// Meta 提取日志位置信息
func Meta(log types.Log, timestamp uint64) model.LogMeta {
	return model.LogMeta{
		TxHash:           utils.CanonicalHash(log.TxHash),
		LogIndex:         log.Index,
		BlockNumber:      log.BlockNumber,
		TimestampSeconds: timestamp,
		Contract:         log.Address,
	}
}

// Decode 按类型解码日志，indexed 参数取自 topics，其余取自 data
func Decode(log types.Log, kind model.Kind) (model.Event, error) {
	ev, ok := EventFor(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return nil, ErrTopicMismatch
	}

	indexed := 0
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed++
		}
	}
	if len(log.Topics) < indexed+1 {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrMissingTopics, indexed, len(log.Topics)-1)
	}

	values, err := ev.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedData, err)
	}

	topic := func(i int) common.Address {
		return common.BytesToAddress(log.Topics[i+1].Bytes())
	}

	switch kind {
	case model.KindSave:
		amount, totalSaved, err := twoUints(values)
		if err != nil {
			return nil, err
		}
		return model.SaveEvent{User: topic(0), Token: topic(1), Amount: amount, TotalSaved: totalSaved}, nil
	case model.KindWithdraw:
		if len(values) != 3 {
			return nil, ErrMalformedData
		}
		amount, received, err := twoUints(values[:2])
		if err != nil {
			return nil, err
		}
		broken, ok := values[2].(bool)
		if !ok {
			return nil, ErrUnexpectedValue
		}
		return model.WithdrawEvent{User: topic(0), Token: topic(1), Amount: amount, ActualReceived: received, TimelockBroken: broken}, nil
	case model.KindDCA:
		from, to, err := twoUints(values)
		if err != nil {
			return nil, err
		}
		return model.DCAEvent{User: topic(0), FromToken: topic(1), ToToken: topic(2), FromAmount: from, ToAmount: to}, nil
	case model.KindStrategyUpdate:
		if len(values) != 4 {
			return nil, ErrMalformedData
		}
		pct, inc, err := twoUints(values[:2])
		if err != nil {
			return nil, err
		}
		maxPct, ok := values[2].(*big.Int)
		if !ok {
			return nil, ErrUnexpectedValue
		}
		tokenType, ok := values[3].(uint8)
		if !ok {
			return nil, ErrUnexpectedValue
		}
		return model.StrategyUpdateEvent{User: topic(0), PercentageBps: pct, AutoIncrementBps: inc, MaxPercentageBps: maxPct, SavingsTokenType: tokenType}, nil
	case model.KindSlippage:
		expected, actual, err := twoUints(values)
		if err != nil {
			return nil, err
		}
		return model.SlippageEvent{User: topic(0), FromToken: topic(1), ToToken: topic(2), ExpectedAmount: expected, ActualAmount: actual}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

func twoUints(values []interface{}) (*big.Int, *big.Int, error) {
	if len(values) != 2 {
		return nil, nil, ErrMalformedData
	}
	a, ok := values[0].(*big.Int)
	if !ok {
		return nil, nil, ErrUnexpectedValue
	}
	b, ok := values[1].(*big.Int)
	if !ok {
		return nil, nil, ErrUnexpectedValue
	}
	return a, b, nil
}

// Normalize 把一条日志转成账本记录。解码失败时返回降级记录和 *NormalizationError，记录本身仍然可用
func Normalize(log types.Log, kind model.Kind, timestamp uint64, tokens TokenLookup) (model.ActivityItem, error) {
	meta := Meta(log, timestamp)
	ev, err := Decode(log, kind)
	if err != nil {
		monitor.NormalizationErrors.WithLabelValues(kind.String()).Inc()
		return degraded(log, kind, meta), &NormalizationError{Kind: kind, TxHash: meta.TxHash, LogIndex: meta.LogIndex, Err: err}
	}
	return FromEvent(ev, meta, tokens), nil
}

// FromEvent 已解码事件转账本记录
func FromEvent(ev model.Event, meta model.LogMeta, tokens TokenLookup) model.ActivityItem {
	item := base(ev.Kind(), meta)
	switch e := ev.(type) {
	case model.SaveEvent:
		item.User = e.User
		setAmount(&item, e.Token, e.Amount, tokens)
		item.Description = fmt.Sprintf("Saved %s %s", item.AmountDecimal.String(), item.Symbol)
	case model.WithdrawEvent:
		item.User = e.User
		setAmount(&item, e.Token, e.Amount, tokens)
		token := e.Token
		item.CounterToken = &token
		item.CounterAmountRaw = utils.BigOrZero(e.ActualReceived)
		item.Description = fmt.Sprintf("Withdrew %s %s, received %s",
			item.AmountDecimal.String(), item.Symbol, utils.AdjustDecimals(e.ActualReceived, item.Decimals).String())
		if e.TimelockBroken {
			item.Description += " (early withdrawal)"
		}
	case model.DCAEvent:
		item.User = e.User
		setAmount(&item, e.FromToken, e.FromAmount, tokens)
		to := e.ToToken
		item.CounterToken = &to
		item.CounterAmountRaw = utils.BigOrZero(e.ToAmount)
		toMeta := TokenInfo(tokens, e.ToToken)
		item.Description = fmt.Sprintf("DCA %s %s to %s %s",
			item.AmountDecimal.String(), item.Symbol, utils.AdjustDecimals(e.ToAmount, toMeta.Decimals).String(), toMeta.Symbol)
	case model.StrategyUpdateEvent:
		item.User = e.User
		item.Description = fmt.Sprintf("Strategy updated: save %s%%, auto increment %s%%, max %s%%",
			bpsToPercent(e.PercentageBps), bpsToPercent(e.AutoIncrementBps), bpsToPercent(e.MaxPercentageBps))
	case model.SlippageEvent:
		item.User = e.User
		setAmount(&item, e.FromToken, e.ActualAmount, tokens)
		to := e.ToToken
		item.CounterToken = &to
		item.CounterAmountRaw = utils.BigOrZero(e.ExpectedAmount)
		item.Description = fmt.Sprintf("Slippage exceeded on %s swap", item.Symbol)
	}
	return item
}

func base(kind model.Kind, meta model.LogMeta) model.ActivityItem {
	return model.ActivityItem{
		ID:               model.ActivityID(meta.TxHash, meta.LogIndex),
		Kind:             kind,
		AmountRaw:        new(big.Int),
		AmountDecimal:    decimal.Zero,
		AmountKnown:      true,
		TimestampSeconds: meta.TimestampSeconds,
		BlockNumber:      meta.BlockNumber,
		LogIndex:         meta.LogIndex,
		TxHash:           meta.TxHash,
		Status:           model.StatusSuccess, // 只查询已确认的日志
	}
}

// degraded 解码失败的记录：数值清零，尽量保留用户和代币
func degraded(log types.Log, kind model.Kind, meta model.LogMeta) model.ActivityItem {
	item := base(kind, meta)
	item.AmountKnown = false
	if len(log.Topics) > 1 {
		item.User = common.BytesToAddress(log.Topics[1].Bytes())
	}
	if len(log.Topics) > 2 && kind != model.KindStrategyUpdate {
		token := common.BytesToAddress(log.Topics[2].Bytes())
		item.Token = &token
	}
	item.Description = fmt.Sprintf("%s: amount unknown", kindLabel(kind))
	return item
}

func setAmount(item *model.ActivityItem, token common.Address, amount *big.Int, tokens TokenLookup) {
	meta := TokenInfo(tokens, token)
	item.Token = &token
	item.Symbol = meta.Symbol
	item.Decimals = meta.Decimals
	item.AmountRaw = utils.BigOrZero(amount)
	item.AmountDecimal = utils.AdjustDecimals(item.AmountRaw, meta.Decimals)
}

// TokenInfo 未知代币按 18 位精度，symbol 用地址缩写
func TokenInfo(tokens TokenLookup, token common.Address) getonchaininfo.TokenMetadata {
	if tokens != nil {
		if meta, ok := tokens.Metadata(token); ok {
			if meta.Symbol == "" {
				meta.Symbol = shortAddress(token)
			}
			return meta
		}
	}
	return getonchaininfo.TokenMetadata{Symbol: shortAddress(token), Decimals: defaultDecimals}
}

func shortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

func bpsToPercent(bps *big.Int) string {
	return utils.AdjustDecimals(bps, 2).StringFixed(2)
}

func kindLabel(kind model.Kind) string {
	switch kind {
	case model.KindSave:
		return "Save"
	case model.KindWithdraw:
		return "Withdraw"
	case model.KindDCA:
		return "DCA"
	case model.KindStrategyUpdate:
		return "Strategy update"
	case model.KindSlippage:
		return "Slippage"
	}
	return string(kind)
}
