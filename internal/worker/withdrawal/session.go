package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/monitor"
	"oneseed-engine/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var (
	ErrInvalidTransition = errors.New("invalid plan state transition")
	ErrUnknownRequest    = errors.New("unknown withdrawal request")
	ErrMissingTxHash     = errors.New("submission returned no transaction hash")
)

// Submitter 外部提交方，返回交易 hash
type Submitter interface {
	Submit(ctx context.Context, plan model.BatchWithdrawalPlan) (string, error)
}

// SubmissionError 提交失败，Plan 原样保留，可以直接重试
type SubmissionError struct {
	Plan model.BatchWithdrawalPlan
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("withdrawal submission failed (%d items): %v", len(e.Plan.Items), e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Session 单个用户的一次批量提现流程
// Building -> Previewing -> Submitting -> Completed | Failed，Failed 之后回到 Building
type Session struct {
	mu         sync.Mutex
	planner    *Planner
	submitter  Submitter
	tl         *zap.Logger
	state      model.PlanState
	candidates map[string]Candidate
	order      []string
	requests   map[string]model.WithdrawalRequest
	selection  *Selection
	plan       *model.BatchWithdrawalPlan
	lastErr    error
	hooks      []func(from, to model.PlanState)
}

func NewSession(planner *Planner, submitter Submitter, tl *zap.Logger) *Session {
	return &Session{
		planner:    planner,
		submitter:  submitter,
		tl:         tl,
		state:      model.PlanBuilding,
		candidates: make(map[string]Candidate),
		requests:   make(map[string]model.WithdrawalRequest),
		selection:  NewSelection(),
	}
}

// OnTransition 注册状态变化回调，回调在锁外执行
func (s *Session) OnTransition(fn func(from, to model.PlanState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

func (s *Session) State() model.PlanState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError 最近一次提交失败的错误
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Load 载入候选代币，默认请求全部余额，已有的选择会清空
func (s *Session) Load(candidates []Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.PlanBuilding {
		return fmt.Errorf("%w: load in %s", ErrInvalidTransition, s.state)
	}

	reqs := make(map[string]model.WithdrawalRequest, len(candidates))
	byID := make(map[string]Candidate, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		req, err := c.FullRequest()
		if err != nil {
			return fmt.Errorf("candidate %s: %w", c.Balance.Token.Hex(), err)
		}
		if _, dup := byID[req.ID]; !dup {
			order = append(order, req.ID)
		}
		byID[req.ID] = c
		reqs[req.ID] = req
	}
	s.candidates = byID
	s.requests = reqs
	s.order = order
	s.selection.Clear()
	s.lastErr = nil
	return nil
}

// SetAmount 替换请求而不是修改原对象
func (s *Session) SetAmount(id string, amountRaw *big.Int) (model.WithdrawalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.PlanBuilding {
		return model.WithdrawalRequest{}, fmt.Errorf("%w: edit in %s", ErrInvalidTransition, s.state)
	}
	c, ok := s.candidates[id]
	if !ok {
		return model.WithdrawalRequest{}, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	req, err := NewRequest(c.Balance, amountRaw, c.PenaltyRateBps)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}
	s.requests[id] = req
	return req.Clone(), nil
}

// Toggle 切换选中状态
func (s *Session) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.PlanBuilding {
		return false, fmt.Errorf("%w: select in %s", ErrInvalidTransition, s.state)
	}
	if _, ok := s.requests[id]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	return s.selection.Toggle(id), nil
}

// Requests 按载入顺序返回全部请求
func (s *Session) Requests() []model.WithdrawalRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.WithdrawalRequest, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.requests[id].Clone())
	}
	return out
}

// Selected 选中的 id
func (s *Session) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.IDs()
}

// Plan 当前预览/提交中的计划
func (s *Session) Plan() (model.BatchWithdrawalPlan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.plan == nil {
		return model.BatchWithdrawalPlan{}, false
	}
	return s.plan.Clone(), true
}

// Preview Building -> Previewing，至少需要一个金额大于 0 的选中请求
func (s *Session) Preview() (model.BatchWithdrawalPlan, error) {
	s.mu.Lock()
	if s.state != model.PlanBuilding {
		state := s.state
		s.mu.Unlock()
		return model.BatchWithdrawalPlan{}, fmt.Errorf("%w: preview in %s", ErrInvalidTransition, state)
	}
	selected := make([]model.WithdrawalRequest, 0, s.selection.Len())
	for _, id := range s.order {
		if s.selection.Has(id) {
			selected = append(selected, s.requests[id])
		}
	}
	plan, err := s.planner.Build(selected)
	if err != nil {
		s.mu.Unlock()
		return model.BatchWithdrawalPlan{}, err
	}
	s.plan = &plan
	from := s.transition(model.PlanPreviewing)
	hooks := s.hooks
	s.mu.Unlock()

	fire(hooks, from, model.PlanPreviewing)
	return plan.Clone(), nil
}

// Back Previewing -> Building，放弃当前预览
func (s *Session) Back() error {
	s.mu.Lock()
	if s.state != model.PlanPreviewing {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: back in %s", ErrInvalidTransition, state)
	}
	s.plan = nil
	from := s.transition(model.PlanBuilding)
	hooks := s.hooks
	s.mu.Unlock()

	fire(hooks, from, model.PlanBuilding)
	return nil
}

// Submit Previewing -> Submitting，成功进入 Completed，失败经 Failed 回到 Building
func (s *Session) Submit(ctx context.Context) (model.SubmissionReceipt, error) {
	s.mu.Lock()
	if s.state != model.PlanPreviewing || s.plan == nil {
		state := s.state
		s.mu.Unlock()
		return model.SubmissionReceipt{}, fmt.Errorf("%w: submit in %s", ErrInvalidTransition, state)
	}
	// 提交方拿到的是副本，预览结果被调用方修改也不影响提交内容
	plan := s.plan.Clone()
	from := s.transition(model.PlanSubmitting)
	hooks := s.hooks
	s.mu.Unlock()
	fire(hooks, from, model.PlanSubmitting)

	ctx, span := logger.StartSpanWithAttrs(ctx, "withdrawal", "submit",
		attribute.Int("items", len(plan.Items)),
		attribute.String("total_amount_raw", plan.TotalAmountRaw.String()))
	defer span.End()

	txHash, err := s.submitter.Submit(ctx, plan.Clone())
	if err == nil && txHash == "" {
		err = ErrMissingTxHash
	}

	if err != nil {
		monitor.WithdrawalSubmissions.WithLabelValues("failed").Inc()
		subErr := &SubmissionError{Plan: plan.Clone(), Err: err}
		span.RecordError(subErr)
		s.tl.Error("withdrawal submission failed", zap.Int("items", len(plan.Items)), zap.Error(err))

		s.mu.Lock()
		s.lastErr = subErr
		s.plan = nil
		s.transition(model.PlanFailed)
		s.transition(model.PlanBuilding)
		hooks = s.hooks
		s.mu.Unlock()

		fire(hooks, model.PlanSubmitting, model.PlanFailed)
		fire(hooks, model.PlanFailed, model.PlanBuilding)
		return model.SubmissionReceipt{}, subErr
	}

	monitor.WithdrawalSubmissions.WithLabelValues("ok").Inc()
	s.tl.Info("withdrawal submitted", zap.String("tx_hash", txHash), zap.Int("items", len(plan.Items)))

	s.mu.Lock()
	s.plan = nil
	s.candidates = make(map[string]Candidate)
	s.requests = make(map[string]model.WithdrawalRequest)
	s.order = nil
	s.selection.Clear()
	s.lastErr = nil
	s.transition(model.PlanCompleted)
	hooks = s.hooks
	s.mu.Unlock()

	fire(hooks, model.PlanSubmitting, model.PlanCompleted)
	return model.SubmissionReceipt{TxHash: txHash, Plan: plan}, nil
}

// Reset Completed -> Building
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.state != model.PlanCompleted {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: reset in %s", ErrInvalidTransition, state)
	}
	from := s.transition(model.PlanBuilding)
	hooks := s.hooks
	s.mu.Unlock()

	fire(hooks, from, model.PlanBuilding)
	return nil
}

// transition 调用方持有锁
func (s *Session) transition(to model.PlanState) model.PlanState {
	from := s.state
	s.state = to
	s.tl.Debug("plan state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	return from
}

func fire(hooks []func(from, to model.PlanState), from, to model.PlanState) {
	for _, fn := range hooks {
		fn(from, to)
	}
}
