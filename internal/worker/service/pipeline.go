package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/contract"
	"oneseed-engine/internal/worker/fetcher"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/internal/worker/normalizer"
	"oneseed-engine/pkg/utils"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// ChainClient 引擎需要的全部链上读接口，*ethclient.Client 直接满足
type ChainClient interface {
	fetcher.ChainReader
	ethereum.ContractCaller
}

// BuildSpecs 每种事件类型对应的合约；没有单独配置的类型使用 savings 合约
func BuildSpecs(contracts config.ContractsConfig) (activity, analytics []fetcher.QuerySpec, err error) {
	savings, ok := utils.ParseAddress(contracts.Savings)
	if !ok {
		return nil, nil, fmt.Errorf("invalid savings contract address %q", contracts.Savings)
	}
	pick := func(raw string) (common.Address, error) {
		if raw == "" {
			return savings, nil
		}
		addr, ok := utils.ParseAddress(raw)
		if !ok {
			return common.Address{}, fmt.Errorf("invalid contract address %q", raw)
		}
		return addr, nil
	}

	addrs := make(map[model.Kind]common.Address, 5)
	for kind, raw := range map[model.Kind]string{
		model.KindSave:           contracts.Savings,
		model.KindWithdraw:       contracts.Savings,
		model.KindDCA:            contracts.DCA,
		model.KindStrategyUpdate: contracts.Strategy,
		model.KindSlippage:       contracts.Slippage,
	} {
		addr, err := pick(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", kind, err)
		}
		addrs[kind] = addr
	}

	spec := func(kind model.Kind) fetcher.QuerySpec {
		return fetcher.QuerySpec{Kind: kind, Contract: addrs[kind], Topic0: normalizer.Topic0(kind)}
	}
	for _, kind := range model.ActivityKinds {
		activity = append(activity, spec(kind))
	}
	for _, kind := range model.AnalyticsKinds {
		analytics = append(analytics, spec(kind))
	}
	return activity, analytics, nil
}

// pipeline 拉取窗口 -> 并发查询 -> 解析代币元数据
type pipeline struct {
	tl            *zap.Logger
	fetcher       *fetcher.Fetcher
	tokens        *contract.TokenDirectory
	confirmations uint64
	nowFn         func() time.Time
}

func (p *pipeline) window(ctx context.Context, lookback uint64) (fetcher.Window, error) {
	return p.fetcher.LatestWindow(ctx, lookback, p.confirmations)
}

// collect 各类型并发拉取，单个类型失败不影响其他类型
func (p *pipeline) collect(ctx context.Context, user common.Address, window fetcher.Window, specs []fetcher.QuerySpec) fetcher.FetchResult {
	res := p.fetcher.FetchAll(ctx, user, window, specs)

	// 元数据失败不影响账本，未知代币按默认精度展示
	p.tokens.Resolve(ctx, tokenCandidates(res))
	return res
}

// tokenCandidates 从 indexed 参数里取出代币地址，strategy 事件没有代币
func tokenCandidates(res fetcher.FetchResult) []common.Address {
	tokens := make([]common.Address, 0)
	for kind, l := range res.All() {
		if kind == model.KindStrategyUpdate {
			continue
		}
		tokens = append(tokens, indexedAddresses(l, 2)...)
	}
	return tokens
}

func indexedAddresses(l types.Log, from int) []common.Address {
	out := make([]common.Address, 0, 2)
	for i := from; i < len(l.Topics); i++ {
		out = append(out, common.BytesToAddress(l.Topics[i].Bytes()))
	}
	return out
}

// normalizeKinds 归一化本轮成功的日志，解码失败的记录降级保留
func (p *pipeline) normalizeKinds(res fetcher.FetchResult, kinds ...model.Kind) []model.ActivityItem {
	items := make([]model.ActivityItem, 0)
	for kind, l := range res.All() {
		if len(kinds) > 0 && !slices.Contains(kinds, kind) {
			continue
		}
		item, err := normalizer.Normalize(l, kind, res.Timestamps[l.BlockNumber], p.tokens)
		if err != nil {
			p.tl.Warn("log normalized with unknown amount", zap.Error(err))
		}
		items = append(items, item)
	}
	return items
}
