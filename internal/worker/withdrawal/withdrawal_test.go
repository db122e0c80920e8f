package withdrawal

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/model"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000000b")

	estimateCfg = config.EstimateConfig{GasPerIndividualTx: 65000, GasPerBatchedTx: 40000, AssumedGasPriceGwei: 2}
)

func balance(token common.Address, amount int64) model.TokenBalance {
	return model.TokenBalance{Token: token, Symbol: "TKN", Decimals: 6, AmountRaw: big.NewInt(amount)}
}

func TestCalculatePenalty_SimpleWithdrawal(t *testing.T) {
	req, err := NewRequest(balance(tokenA, 1000), big.NewInt(400), 500)
	require.NoError(t, err)
	assert.Equal(t, int64(20), req.PenaltyRaw.Int64())
	assert.Equal(t, int64(380), req.NetAmountRaw.Int64())
	assert.Equal(t, RequestID(balance(tokenA, 0)), req.ID)
}

func TestCalculatePenalty_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	amounts := []*big.Int{big.NewInt(0), big.NewInt(1), big.NewInt(9999), huge}
	for i := 0; i < 200; i++ {
		amounts = append(amounts, new(big.Int).Rand(r, huge))
	}

	for _, amount := range amounts {
		for _, rate := range []uint64{0, 1, 500, 3333, 9999, 10000, uint64(r.Intn(10001))} {
			penalty, net, err := CalculatePenalty(amount, rate)
			require.NoError(t, err)
			sum := new(big.Int).Add(penalty, net)
			assert.Equal(t, 0, sum.Cmp(amount), "amount=%s rate=%d", amount, rate)
			assert.GreaterOrEqual(t, penalty.Sign(), 0)
			assert.GreaterOrEqual(t, net.Sign(), 0)

			switch rate {
			case 0:
				assert.Equal(t, 0, penalty.Sign())
				assert.Equal(t, 0, net.Cmp(amount))
			case MaxPenaltyBps:
				assert.Equal(t, 0, net.Sign())
			}
		}
	}
}

func TestCalculatePenalty_Floors(t *testing.T) {
	penalty, net, err := CalculatePenalty(big.NewInt(199), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), penalty.Int64())
	assert.Equal(t, int64(198), net.Int64())
}

func TestCalculatePenalty_RejectsInvalidInput(t *testing.T) {
	_, _, err := CalculatePenalty(big.NewInt(100), 10001)
	assert.ErrorIs(t, err, ErrInvalidPenaltyRate)

	_, _, err = CalculatePenalty(big.NewInt(-1), 100)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = CalculatePenalty(nil, 100)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = NewRequest(balance(tokenA, 100), big.NewInt(101), 100)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNewPlanner_RejectsBatchedNotCheaper(t *testing.T) {
	_, err := NewPlanner(config.EstimateConfig{GasPerIndividualTx: 100, GasPerBatchedTx: 100})
	assert.ErrorIs(t, err, ErrInvalidGasConfig)
}

func TestPlanner_TwoTokens(t *testing.T) {
	planner, err := NewPlanner(estimateCfg)
	require.NoError(t, err)

	a, err := NewRequest(balance(tokenA, 100), big.NewInt(100), 500)
	require.NoError(t, err)
	b, err := NewRequest(balance(tokenB, 500), big.NewInt(200), 1000)
	require.NoError(t, err)

	plan, err := planner.Build([]model.WithdrawalRequest{a, b})
	require.NoError(t, err)

	assert.Equal(t, int64(300), plan.TotalAmountRaw.Int64())
	assert.Equal(t, int64(25), plan.TotalPenaltyRaw.Int64())
	assert.Equal(t, int64(275), plan.TotalNetAmountRaw.Int64())

	assert.Equal(t, uint64(130000), plan.EstimatedGasUnitsIndividual)
	assert.Equal(t, uint64(80000), plan.EstimatedGasUnitsBatched)
	assert.Equal(t, uint64(50000), plan.EstimatedGasUnitsSaved)
	assert.Equal(t, "100000000000000", plan.EstimatedGasSavingsRaw.String())
	assert.LessOrEqual(t, plan.EstimatedGasUnitsBatched, plan.EstimatedGasUnitsIndividual)

	// 计划里的数值是副本
	plan.Items[0].AmountRaw.SetInt64(1)
	assert.Equal(t, int64(100), a.AmountRaw.Int64())
}

func TestPlanner_TotalsMatchItems(t *testing.T) {
	planner, err := NewPlanner(estimateCfg)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(11))
	for round := 0; round < 50; round++ {
		var reqs []model.WithdrawalRequest
		for i := 0; i < 1+r.Intn(6); i++ {
			token := common.BigToAddress(big.NewInt(int64(i + 1)))
			amount := r.Int63n(1_000_000_000)
			req, err := NewRequest(balance(token, amount), big.NewInt(amount), uint64(r.Intn(10001)))
			require.NoError(t, err)
			reqs = append(reqs, req)
		}
		plan, err := planner.Build(reqs)
		if errors.Is(err, ErrEmptyPlan) {
			continue
		}
		require.NoError(t, err)

		amount, penalty, net := new(big.Int), new(big.Int), new(big.Int)
		for _, item := range plan.Items {
			amount.Add(amount, item.AmountRaw)
			penalty.Add(penalty, item.PenaltyRaw)
			net.Add(net, item.NetAmountRaw)
		}
		assert.Equal(t, 0, amount.Cmp(plan.TotalAmountRaw))
		assert.Equal(t, 0, penalty.Cmp(plan.TotalPenaltyRaw))
		assert.Equal(t, 0, net.Cmp(plan.TotalNetAmountRaw))
	}
}

func TestPlanner_SkipsZeroAmounts(t *testing.T) {
	planner, err := NewPlanner(estimateCfg)
	require.NoError(t, err)

	zero, err := NewRequest(balance(tokenA, 0), big.NewInt(0), 500)
	require.NoError(t, err)
	_, err = planner.Build([]model.WithdrawalRequest{zero})
	assert.ErrorIs(t, err, ErrEmptyPlan)

	_, err = planner.Build(nil)
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestSelection(t *testing.T) {
	s := NewSelection("b")
	assert.True(t, s.Toggle("a"))
	assert.False(t, s.Toggle("b"))
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("b"))
	assert.Equal(t, []string{"a"}, s.IDs())
	s.Clear()
	assert.Equal(t, 0, s.Len())
}

type fakeSubmitter struct {
	txHash string
	err    error
	calls  int
	last   model.BatchWithdrawalPlan
}

func (f *fakeSubmitter) Submit(_ context.Context, plan model.BatchWithdrawalPlan) (string, error) {
	f.calls++
	f.last = plan
	return f.txHash, f.err
}

func newSession(t *testing.T, sub Submitter) *Session {
	t.Helper()
	planner, err := NewPlanner(estimateCfg)
	require.NoError(t, err)
	s := NewSession(planner, sub, zap.NewNop())
	require.NoError(t, s.Load([]Candidate{
		{Balance: balance(tokenA, 100), PenaltyRateBps: 500},
		{Balance: balance(tokenB, 500), PenaltyRateBps: 1000},
		{Balance: balance(common.HexToAddress("0x0c"), 0), PenaltyRateBps: 1000},
	}))
	return s
}

func TestSession_HappyPath(t *testing.T) {
	sub := &fakeSubmitter{txHash: "0xfeed"}
	s := newSession(t, sub)

	var transitions []model.PlanState
	s.OnTransition(func(_, to model.PlanState) { transitions = append(transitions, to) })

	idA, idB := RequestID(balance(tokenA, 0)), RequestID(balance(tokenB, 0))
	_, err := s.SetAmount(idB, big.NewInt(200))
	require.NoError(t, err)
	_, err = s.Toggle(idA)
	require.NoError(t, err)
	_, err = s.Toggle(idB)
	require.NoError(t, err)

	plan, err := s.Preview()
	require.NoError(t, err)
	assert.Equal(t, model.PlanPreviewing, s.State())
	assert.Equal(t, int64(25), plan.TotalPenaltyRaw.Int64())

	// 预览中不能编辑
	_, err = s.Toggle(idA)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	receipt, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", receipt.TxHash)
	assert.Equal(t, model.PlanCompleted, s.State())
	assert.Equal(t, 1, sub.calls)
	assert.Len(t, sub.last.Items, 2)

	_, ok := s.Plan()
	assert.False(t, ok)
	assert.Empty(t, s.Requests())
	assert.Empty(t, s.Selected())

	require.NoError(t, s.Reset())
	assert.Equal(t, model.PlanBuilding, s.State())
	assert.Equal(t, []model.PlanState{model.PlanPreviewing, model.PlanSubmitting, model.PlanCompleted, model.PlanBuilding}, transitions)
}

func TestSession_FailureReturnsToBuildingIntact(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("relay rejected")}
	s := newSession(t, sub)

	idA := RequestID(balance(tokenA, 0))
	_, err := s.SetAmount(idA, big.NewInt(40))
	require.NoError(t, err)
	_, err = s.Toggle(idA)
	require.NoError(t, err)
	before := s.Requests()

	_, err = s.Preview()
	require.NoError(t, err)

	var transitions []model.PlanState
	s.OnTransition(func(_, to model.PlanState) { transitions = append(transitions, to) })

	_, err = s.Submit(context.Background())
	require.Error(t, err)
	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, int64(40), subErr.Plan.TotalAmountRaw.Int64())
	assert.ErrorIs(t, s.LastError(), sub.err)

	assert.Equal(t, model.PlanBuilding, s.State())
	assert.Equal(t, before, s.Requests())
	assert.Equal(t, []string{idA}, s.Selected())
	assert.Equal(t, []model.PlanState{model.PlanSubmitting, model.PlanFailed, model.PlanBuilding}, transitions)

	// 直接重试
	sub.err = nil
	sub.txHash = "0xbeef"
	_, err = s.Preview()
	require.NoError(t, err)
	receipt, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0xbeef", receipt.TxHash)
}

func TestSession_EmptyTxHashIsFailure(t *testing.T) {
	s := newSession(t, &fakeSubmitter{})
	_, err := s.Toggle(RequestID(balance(tokenA, 0)))
	require.NoError(t, err)
	_, err = s.Preview()
	require.NoError(t, err)

	_, err = s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrMissingTxHash)
	assert.Equal(t, model.PlanBuilding, s.State())
}

func TestSession_PreviewRequiresPositiveSelection(t *testing.T) {
	s := newSession(t, &fakeSubmitter{txHash: "0x1"})

	_, err := s.Preview()
	assert.ErrorIs(t, err, ErrEmptyPlan)

	zeroID := RequestID(balance(common.HexToAddress("0x0c"), 0))
	_, err = s.Toggle(zeroID)
	require.NoError(t, err)
	_, err = s.Preview()
	assert.ErrorIs(t, err, ErrEmptyPlan)
	assert.Equal(t, model.PlanBuilding, s.State())
}

func TestSession_InvalidTransitions(t *testing.T) {
	s := newSession(t, &fakeSubmitter{txHash: "0x1"})

	_, err := s.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, s.Reset(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Back(), ErrInvalidTransition)

	_, err = s.Toggle("0xunknown")
	assert.ErrorIs(t, err, ErrUnknownRequest)
	_, err = s.SetAmount(RequestID(balance(tokenA, 0)), big.NewInt(101))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = s.Toggle(RequestID(balance(tokenA, 0)))
	require.NoError(t, err)
	_, err = s.Preview()
	require.NoError(t, err)
	require.NoError(t, s.Back())
	assert.Equal(t, model.PlanBuilding, s.State())
	assert.Equal(t, []string{RequestID(balance(tokenA, 0))}, s.Selected())
}

func TestSession_SetAmountDoesNotMutatePreviousRequest(t *testing.T) {
	s := newSession(t, &fakeSubmitter{txHash: "0x1"})
	id := RequestID(balance(tokenA, 0))
	before := s.Requests()[0]

	updated, err := s.SetAmount(id, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, int64(100), before.AmountRaw.Int64())
	assert.Equal(t, int64(10), updated.AmountRaw.Int64())
}

func TestSession_PreviewIsSnapshot(t *testing.T) {
	sub := &fakeSubmitter{txHash: "0xfeed"}
	s := newSession(t, sub)
	idA := RequestID(balance(tokenA, 0))
	_, err := s.Toggle(idA)
	require.NoError(t, err)

	preview, err := s.Preview()
	require.NoError(t, err)
	preview.Items[0].AmountRaw.SetInt64(99999)
	preview.TotalAmountRaw.SetInt64(99999)
	preview.Items = append(preview.Items, preview.Items[0])

	current, ok := s.Plan()
	require.True(t, ok)
	current.TotalNetAmountRaw.SetInt64(1)

	_, err = s.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, sub.last.Items, 1)
	assert.Equal(t, int64(100), sub.last.Items[0].AmountRaw.Int64())
	assert.Equal(t, int64(100), sub.last.TotalAmountRaw.Int64())
	assert.Equal(t, int64(95), sub.last.TotalNetAmountRaw.Int64())
}

func TestSession_RequestsAreCopies(t *testing.T) {
	s := newSession(t, &fakeSubmitter{txHash: "0x1"})
	s.Requests()[0].AmountRaw.SetInt64(7)

	updated, err := s.SetAmount(RequestID(balance(tokenB, 0)), big.NewInt(200))
	require.NoError(t, err)
	updated.PenaltyRaw.SetInt64(0)

	for _, req := range s.Requests() {
		sum := new(big.Int).Add(req.PenaltyRaw, req.NetAmountRaw)
		assert.Equal(t, 0, sum.Cmp(req.AmountRaw), req.ID)
	}
	assert.Equal(t, int64(100), s.Requests()[0].AmountRaw.Int64())
	assert.Equal(t, int64(20), s.Requests()[1].PenaltyRaw.Int64())
}
