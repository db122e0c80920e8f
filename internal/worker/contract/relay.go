package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/pkg/httpclient"
	"oneseed-engine/pkg/utils"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var ErrRelayRejected = errors.New("relay rejected withdrawal")

type relayCall struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type relayRequest struct {
	ChainID uint64      `json:"chain_id"`
	Vault   string      `json:"vault"`
	User    string      `json:"user"`
	Calls   []relayCall `json:"calls"`
}

type relayResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Relay 批量提现交给外部 relay 执行，引擎本身不签名
type Relay struct {
	client  *httpclient.HTTPClient
	url     string
	chainID uint64
	vault   common.Address
	tl      *zap.Logger
}

func NewRelay(cfg config.RelayConfig, chainID uint64, vault common.Address, tl *zap.Logger) *Relay {
	client := httpclient.NewHTTPClient(httpclient.HTTPClientConfig{
		Timeout:    time.Duration(cfg.Timeout) * time.Second,
		RateLimit:  cfg.RateLimit,
		MaxRetries: 0, // 提交不是幂等的，不重试
		XApiKey:    cfg.APIKey,
		UserAgent:  "oneseed-engine",
	}, tl)
	return &Relay{client: client, url: cfg.URL, chainID: chainID, vault: vault, tl: tl}
}

// ForUser 绑定用户后满足 withdrawal.Submitter
func (r *Relay) ForUser(user common.Address) *UserRelay {
	return &UserRelay{relay: r, user: user}
}

type UserRelay struct {
	relay *Relay
	user  common.Address
}

func (u *UserRelay) Submit(ctx context.Context, plan model.BatchWithdrawalPlan) (string, error) {
	return u.relay.submit(ctx, u.user, plan)
}

func (r *Relay) submit(ctx context.Context, user common.Address, plan model.BatchWithdrawalPlan) (string, error) {
	if r.url == "" {
		return "", fmt.Errorf("%w: relay url not configured", ErrRelayRejected)
	}
	req := relayRequest{
		ChainID: r.chainID,
		Vault:   utils.CanonicalAddress(r.vault),
		User:    utils.CanonicalAddress(user),
		Calls:   make([]relayCall, 0, len(plan.Items)),
	}
	for _, item := range plan.Items {
		req.Calls = append(req.Calls, relayCall{Token: utils.CanonicalAddress(item.Token), Amount: item.AmountRaw.String()})
	}

	var resp relayResponse
	if err := r.client.PostJSON(ctx, r.url, req, nil, &resp); err != nil {
		return "", fmt.Errorf("post relay: %w", err)
	}
	if resp.Error != "" || resp.Status == "failed" {
		return "", fmt.Errorf("%w: %s", ErrRelayRejected, resp.Error)
	}
	r.tl.Info("relay accepted withdrawal", zap.String("user", user.Hex()), zap.String("tx_hash", resp.TxHash), zap.Int("calls", len(req.Calls)))
	return resp.TxHash, nil
}
