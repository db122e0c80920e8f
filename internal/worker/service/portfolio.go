package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/contract"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/normalizer"
	"oneseed-engine/internal/worker/withdrawal"
	"oneseed-engine/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var ErrRelayNotConfigured = errors.New("withdrawal relay not configured")

// PreviewMismatch 本地计算和合约 calculateWithdrawalAmount 的差异
type PreviewMismatch struct {
	Token           common.Address `json:"token"`
	LocalNetRaw     *big.Int       `json:"local_net_raw"`
	LocalPenaltyRaw *big.Int       `json:"local_penalty_raw"`
	ChainNetRaw     *big.Int       `json:"chain_net_raw"`
	ChainPenaltyRaw *big.Int       `json:"chain_penalty_raw"`
}

// PortfolioService vault 余额和提现流程
type PortfolioService struct {
	tl                *zap.Logger
	vault             *contract.Vault
	tokens            *contract.TokenDirectory
	relay             *contract.Relay
	planner           *withdrawal.Planner
	activity          *ActivityService
	defaultPenaltyBps uint64
	maxParallel       int

	mu       sync.Mutex
	sessions map[common.Address]*withdrawal.Session
}

func NewPortfolioService(cfg config.Config, tl *zap.Logger, vault *contract.Vault, tokens *contract.TokenDirectory, relay *contract.Relay, activity *ActivityService) (*PortfolioService, error) {
	planner, err := withdrawal.NewPlanner(cfg.Estimate)
	if err != nil {
		return nil, err
	}
	if cfg.Withdrawal.DefaultPenaltyBps > withdrawal.MaxPenaltyBps {
		return nil, fmt.Errorf("%w: default %d", withdrawal.ErrInvalidPenaltyRate, cfg.Withdrawal.DefaultPenaltyBps)
	}
	return &PortfolioService{
		tl:                tl,
		vault:             vault,
		tokens:            tokens,
		relay:             relay,
		planner:           planner,
		activity:          activity,
		defaultPenaltyBps: cfg.Withdrawal.DefaultPenaltyBps,
		maxParallel:       max(cfg.Fetch.MaxParallel, 1),
		sessions:          make(map[common.Address]*withdrawal.Session),
	}, nil
}

// Balances vault 中的全部代币，包括余额为 0 的
func (s *PortfolioService) Balances(ctx context.Context, user common.Address) ([]model.TokenBalance, error) {
	tokens, amounts, err := s.vault.GetUserSavings(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("get user savings: %w", err)
	}
	s.tokens.Resolve(ctx, tokens)

	balances := make([]model.TokenBalance, 0, len(tokens))
	for i, token := range tokens {
		meta := normalizer.TokenInfo(s.tokens, token)
		balances = append(balances, model.TokenBalance{
			Token:     token,
			Symbol:    meta.Symbol,
			Decimals:  meta.Decimals,
			AmountRaw: utils.BigOrZero(amounts[i]),
		})
	}
	return balances, nil
}

// ActiveBalances 展示用，过滤掉余额为 0 的代币
func (s *PortfolioService) ActiveBalances(ctx context.Context, user common.Address) ([]model.TokenBalance, error) {
	balances, err := s.Balances(ctx, user)
	if err != nil {
		return nil, err
	}
	return model.ActiveBalances(balances), nil
}

// Candidates 有余额的代币及其提前提现费率，费率优先取合约，失败时才用配置默认值
func (s *PortfolioService) Candidates(ctx context.Context, user common.Address) ([]withdrawal.Candidate, error) {
	balances, err := s.ActiveBalances(ctx, user)
	if err != nil {
		return nil, err
	}

	candidates := make([]withdrawal.Candidate, len(balances))
	p := pool.New().WithMaxGoroutines(s.maxParallel)
	for i, b := range balances {
		p.Go(func() {
			rate, err := s.vault.EarlyWithdrawalPenaltyBps(ctx, user, b.Token)
			if err != nil {
				s.tl.Warn("penalty rate lookup failed, use default",
					zap.String("user", user.Hex()),
					zap.String("token", b.Token.Hex()),
					zap.Uint64("default_bps", s.defaultPenaltyBps),
					zap.Error(err))
				rate = s.defaultPenaltyBps
			}
			candidates[i] = withdrawal.Candidate{Balance: b, PenaltyRateBps: rate}
		})
	}
	p.Wait()

	// 合约返回的费率不做截断，超出范围直接报错
	for _, c := range candidates {
		if c.PenaltyRateBps > withdrawal.MaxPenaltyBps {
			return nil, fmt.Errorf("%w: %s rate %d", withdrawal.ErrInvalidPenaltyRate, c.Balance.Token.Hex(), c.PenaltyRateBps)
		}
	}
	return candidates, nil
}

// Session 用户的提现流程，同一用户复用；新建时载入最新候选
func (s *PortfolioService) Session(ctx context.Context, user common.Address) (*withdrawal.Session, error) {
	s.mu.Lock()
	session, ok := s.sessions[user]
	s.mu.Unlock()
	if ok {
		return session, nil
	}

	candidates, err := s.Candidates(ctx, user)
	if err != nil {
		return nil, err
	}
	session = withdrawal.NewSession(s.planner, s.submitterFor(user), s.tl.With(zap.String("user", user.Hex())))
	if err := session.Load(candidates); err != nil {
		return nil, err
	}
	session.OnTransition(func(_, to model.PlanState) {
		if to == model.PlanCompleted && s.activity != nil {
			s.activity.Invalidate(user)
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[user]; ok {
		return existing, nil
	}
	s.sessions[user] = session
	return session, nil
}

// Reload Building 状态下重新载入候选，余额变化后使用
func (s *PortfolioService) Reload(ctx context.Context, user common.Address) error {
	session, err := s.Session(ctx, user)
	if err != nil {
		return err
	}
	candidates, err := s.Candidates(ctx, user)
	if err != nil {
		return err
	}
	return session.Load(candidates)
}

// CloseSession 丢弃用户的提现流程
func (s *PortfolioService) CloseSession(user common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, user)
}

func (s *PortfolioService) submitterFor(user common.Address) withdrawal.Submitter {
	if s.relay == nil {
		return noRelay{}
	}
	return s.relay.ForUser(user)
}

type noRelay struct{}

func (noRelay) Submit(context.Context, model.BatchWithdrawalPlan) (string, error) {
	return "", ErrRelayNotConfigured
}

// CrossCheck 用合约 calculateWithdrawalAmount 校验预览，差异只记录日志
func (s *PortfolioService) CrossCheck(ctx context.Context, user common.Address, plan model.BatchWithdrawalPlan) ([]PreviewMismatch, error) {
	mismatches := make([]PreviewMismatch, 0)
	var errs []error
	for _, item := range plan.Items {
		net, penalty, err := s.vault.CalculateWithdrawalAmount(ctx, user, item.Token, item.AmountRaw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.Token.Hex(), err))
			continue
		}
		if net.Cmp(item.NetAmountRaw) == 0 && penalty.Cmp(item.PenaltyRaw) == 0 {
			continue
		}
		m := PreviewMismatch{
			Token:           item.Token,
			LocalNetRaw:     item.NetAmountRaw,
			LocalPenaltyRaw: item.PenaltyRaw,
			ChainNetRaw:     net,
			ChainPenaltyRaw: penalty,
		}
		s.tl.Warn("withdrawal preview differs from contract",
			zap.String("user", user.Hex()),
			zap.String("token", item.Token.Hex()),
			zap.String("local_net", item.NetAmountRaw.String()),
			zap.String("chain_net", net.String()),
			zap.String("local_penalty", item.PenaltyRaw.String()),
			zap.String("chain_penalty", penalty.String()))
		mismatches = append(mismatches, m)
	}
	return mismatches, errors.Join(errs...)
}
