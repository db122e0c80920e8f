package normalizer

import (
	"errors"
	"math/big"
	"testing"

	"oneseed-engine/internal/worker/model"
	getonchaininfo "oneseed-engine/pkg/utils/get_onchain_info"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	user = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdc = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	weth = common.HexToAddress("0x4200000000000000000000000000000000000006")

	tokens = StaticTokens{
		usdc: {Symbol: "USDC", Decimals: 6},
		weth: {Symbol: "WETH", Decimals: 18},
	}
)

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func buildLog(t *testing.T, kind model.Kind, indexed []common.Address, values ...interface{}) types.Log {
	t.Helper()
	ev, ok := EventFor(kind)
	require.True(t, ok)
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)

	topics := []common.Hash{ev.ID}
	for _, a := range indexed {
		topics = append(topics, addrTopic(a))
	}
	return types.Log{
		Topics:      topics,
		Data:        data,
		BlockNumber: 42,
		TxHash:      common.HexToHash("0xABCDEF"),
		Index:       3,
	}
}

func TestTopic0(t *testing.T) {
	for _, kind := range []model.Kind{model.KindSave, model.KindWithdraw, model.KindDCA, model.KindStrategyUpdate, model.KindSlippage} {
		assert.NotEqual(t, common.Hash{}, Topic0(kind), kind)
	}
	assert.Equal(t, common.Hash{}, Topic0(model.Kind("unknown")))
}

func TestNormalize_Save(t *testing.T) {
	log := buildLog(t, model.KindSave, []common.Address{user, usdc}, big.NewInt(12_500_000), big.NewInt(100_000_000))

	item, err := Normalize(log, model.KindSave, 1_700_000_000, tokens)
	require.NoError(t, err)

	assert.Equal(t, model.ActivityID(item.TxHash, 3), item.ID)
	assert.Equal(t, model.KindSave, item.Kind)
	assert.Equal(t, user, item.User)
	require.NotNil(t, item.Token)
	assert.Equal(t, usdc, *item.Token)
	assert.Equal(t, "USDC", item.Symbol)
	assert.Equal(t, 0, item.AmountRaw.Cmp(big.NewInt(12_500_000)))
	assert.True(t, item.AmountDecimal.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, item.AmountKnown)
	assert.Equal(t, model.StatusSuccess, item.Status)
	assert.Equal(t, uint64(1_700_000_000), item.TimestampSeconds)
	assert.Equal(t, uint64(42), item.BlockNumber)
	assert.Equal(t, "Saved 12.5 USDC", item.Description)
}

func TestNormalize_Withdraw(t *testing.T) {
	log := buildLog(t, model.KindWithdraw, []common.Address{user, usdc}, big.NewInt(400), big.NewInt(380), true)

	item, err := Normalize(log, model.KindWithdraw, 10, tokens)
	require.NoError(t, err)
	assert.Equal(t, 0, item.AmountRaw.Cmp(big.NewInt(400)))
	assert.Equal(t, 0, item.CounterAmountRaw.Cmp(big.NewInt(380)))
	assert.Contains(t, item.Description, "early withdrawal")
}

func TestNormalize_DCA(t *testing.T) {
	log := buildLog(t, model.KindDCA, []common.Address{user, usdc, weth},
		big.NewInt(10_000_000), new(big.Int).Mul(big.NewInt(4), big.NewInt(1e15)))

	item, err := Normalize(log, model.KindDCA, 10, tokens)
	require.NoError(t, err)
	assert.Equal(t, usdc, *item.Token)
	require.NotNil(t, item.CounterToken)
	assert.Equal(t, weth, *item.CounterToken)
	assert.Equal(t, "DCA 10 USDC to 0.004 WETH", item.Description)
}

func TestNormalize_StrategyUpdate(t *testing.T) {
	log := buildLog(t, model.KindStrategyUpdate, []common.Address{user},
		big.NewInt(500), big.NewInt(50), big.NewInt(2000), uint8(1))

	item, err := Normalize(log, model.KindStrategyUpdate, 10, tokens)
	require.NoError(t, err)
	assert.Nil(t, item.Token)
	assert.Equal(t, 0, item.AmountRaw.Sign())
	assert.Equal(t, "Strategy updated: save 5.00%, auto increment 0.50%, max 20.00%", item.Description)

	ev, err := Decode(log, model.KindStrategyUpdate)
	require.NoError(t, err)
	strategy, ok := ev.(model.StrategyUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, uint8(1), strategy.SavingsTokenType)
}

func TestNormalize_UnknownTokenFallsBack(t *testing.T) {
	other := common.HexToAddress("0x1234567890123456789012345678901234567890")
	log := buildLog(t, model.KindSave, []common.Address{user, other}, big.NewInt(1e18), big.NewInt(1e18))

	item, err := Normalize(log, model.KindSave, 10, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), item.Decimals)
	assert.Equal(t, "0x1234...7890", item.Symbol)
	assert.True(t, item.AmountDecimal.Equal(decimal.NewFromInt(1)))
}

func TestNormalize_MalformedDegrades(t *testing.T) {
	good := buildLog(t, model.KindSave, []common.Address{user, usdc}, big.NewInt(1), big.NewInt(1))

	tests := []struct {
		name    string
		mutate  func(l *types.Log)
		wantErr error
	}{
		{"truncated data", func(l *types.Log) { l.Data = l.Data[:40] }, ErrMalformedData},
		{"missing token topic", func(l *types.Log) { l.Topics = l.Topics[:2] }, ErrMissingTopics},
		{"wrong signature", func(l *types.Log) { l.Topics[0] = common.HexToHash("0x01") }, ErrTopicMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := good
			log.Topics = append([]common.Hash(nil), good.Topics...)
			log.Data = append([]byte(nil), good.Data...)
			tt.mutate(&log)

			var item model.ActivityItem
			var err error
			require.NotPanics(t, func() {
				item, err = Normalize(log, model.KindSave, 99, tokens)
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var ne *NormalizationError
			require.True(t, errors.As(err, &ne))
			assert.Equal(t, model.KindSave, ne.Kind)

			assert.False(t, item.AmountKnown)
			assert.Equal(t, 0, item.AmountRaw.Sign())
			assert.True(t, item.AmountDecimal.IsZero())
			assert.Equal(t, "Save: amount unknown", item.Description)
			assert.Equal(t, user, item.User)
			assert.Equal(t, uint64(99), item.TimestampSeconds)
			assert.NotEmpty(t, item.ID)
		})
	}
}

func TestStaticTokens(t *testing.T) {
	meta, ok := tokens.Metadata(usdc)
	require.True(t, ok)
	assert.Equal(t, getonchaininfo.TokenMetadata{Symbol: "USDC", Decimals: 6}, meta)

	_, ok = tokens.Metadata(common.Address{})
	assert.False(t, ok)
}
