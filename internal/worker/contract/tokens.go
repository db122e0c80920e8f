package contract

import (
	"context"
	"time"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/pkg/utils"
	getonchaininfo "oneseed-engine/pkg/utils/get_onchain_info"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const TOKEN_METADATA_CACHE_TTL = 24 * time.Hour

// TokenDirectory 代币元数据：配置优先，其次链上 decimals()/symbol()
type TokenDirectory struct {
	caller     ethereum.ContractCaller
	tl         *zap.Logger
	static     map[common.Address]getonchaininfo.TokenMetadata
	localCache *cache.Cache
}

func NewTokenDirectory(caller ethereum.ContractCaller, tokens []config.TokenConfig, tl *zap.Logger) *TokenDirectory {
	static := make(map[common.Address]getonchaininfo.TokenMetadata, len(tokens))
	for _, t := range tokens {
		addr, ok := utils.ParseAddress(t.Address)
		if !ok {
			tl.Warn("skip invalid token address in config", zap.String("address", t.Address))
			continue
		}
		static[addr] = getonchaininfo.TokenMetadata{Symbol: t.Symbol, Decimals: t.Decimals}
	}
	return &TokenDirectory{
		caller:     caller,
		tl:         tl,
		static:     static,
		localCache: cache.New(TOKEN_METADATA_CACHE_TTL, time.Hour),
	}
}

// Metadata 只查本地，不发起调用
func (d *TokenDirectory) Metadata(token common.Address) (getonchaininfo.TokenMetadata, bool) {
	if meta, ok := d.static[token]; ok {
		return meta, true
	}
	if cached, found := d.localCache.Get(utils.CanonicalAddress(token)); found {
		if meta, ok := cached.(getonchaininfo.TokenMetadata); ok {
			return meta, true
		}
	}
	return getonchaininfo.TokenMetadata{}, false
}

// Resolve 查询还不知道的代币，失败只记日志，这些代币之后按默认精度展示
func (d *TokenDirectory) Resolve(ctx context.Context, tokens []common.Address) {
	missing := make([]common.Address, 0)
	seen := make(map[common.Address]struct{}, len(tokens))
	for _, token := range tokens {
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		if _, ok := d.Metadata(token); !ok {
			missing = append(missing, token)
		}
	}
	if len(missing) == 0 || d.caller == nil {
		return
	}

	result, err := getonchaininfo.GetTokenMetadata(ctx, d.caller, missing)
	for token, meta := range result {
		d.localCache.SetDefault(utils.CanonicalAddress(token), meta)
	}
	if err != nil {
		d.tl.Warn("resolve token metadata partially failed", zap.Int("tokens", len(missing)), zap.Int("resolved", len(result)), zap.Error(err))
	}
}
