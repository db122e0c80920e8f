package contract

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"oneseed-engine/internal/worker/config"
	"oneseed-engine/internal/worker/model"
	"oneseed-engine/pkg/httpclient"

	"github.com/bytedance/sonic"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	vaultAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	user      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdc      = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	weth      = common.HexToAddress("0x4200000000000000000000000000000000000006")
)

// fakeCaller 按方法选择器返回预先编码的结果
type fakeCaller struct {
	responses map[string][]byte
	errs      map[string]error
	calls     int
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	key := msg.To.Hex() + ":" + common.Bytes2Hex(msg.Data[:4])
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	if out, ok := f.responses[key]; ok {
		return out, nil
	}
	return nil, errors.New("execution reverted")
}

func (f *fakeCaller) set(to common.Address, method abi.Method, values ...interface{}) {
	out, err := method.Outputs.Pack(values...)
	if err != nil {
		panic(err)
	}
	f.responses[to.Hex()+":"+common.Bytes2Hex(method.ID)] = out
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{responses: make(map[string][]byte), errs: make(map[string]error)}
}

func TestVault_Reads(t *testing.T) {
	caller := newFakeCaller()
	caller.set(vaultAddr, parsedVaultABI.Methods["getUserSavings"],
		[]common.Address{usdc, weth}, []*big.Int{big.NewInt(1000), big.NewInt(0)})
	caller.set(vaultAddr, parsedVaultABI.Methods["calculateWithdrawalAmount"], big.NewInt(380), big.NewInt(20))
	caller.set(vaultAddr, parsedVaultABI.Methods["earlyWithdrawalPenaltyBps"], big.NewInt(500))

	vault := NewVault(vaultAddr, caller)
	ctx := context.Background()

	tokens, amounts, err := vault.GetUserSavings(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{usdc, weth}, tokens)
	assert.Equal(t, int64(1000), amounts[0].Int64())

	net, penalty, err := vault.CalculateWithdrawalAmount(ctx, user, usdc, big.NewInt(400))
	require.NoError(t, err)
	assert.Equal(t, int64(380), net.Int64())
	assert.Equal(t, int64(20), penalty.Int64())

	bps, err := vault.EarlyWithdrawalPenaltyBps(ctx, user, usdc)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), bps)
}

func TestVault_CallError(t *testing.T) {
	vault := NewVault(vaultAddr, newFakeCaller())
	_, _, err := vault.GetUserSavings(context.Background(), user)
	assert.ErrorContains(t, err, "getUserSavings")
}

func stringABI(s string) []byte {
	typ, _ := abi.NewType("string", "", nil)
	out, _ := abi.Arguments{{Type: typ}}.Pack(s)
	return out
}

func uintABI(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func TestTokenDirectory(t *testing.T) {
	caller := newFakeCaller()
	caller.responses[weth.Hex()+":313ce567"] = uintABI(18)
	caller.responses[weth.Hex()+":95d89b41"] = stringABI("WETH")

	dir := NewTokenDirectory(caller, []config.TokenConfig{
		{Address: usdc.Hex(), Symbol: "USDC", Decimals: 6},
		{Address: "not-an-address", Symbol: "BAD"},
	}, zap.NewNop())

	meta, ok := dir.Metadata(usdc)
	require.True(t, ok)
	assert.Equal(t, uint8(6), meta.Decimals)

	_, ok = dir.Metadata(weth)
	assert.False(t, ok)

	dir.Resolve(context.Background(), []common.Address{usdc, weth, weth})
	meta, ok = dir.Metadata(weth)
	require.True(t, ok)
	assert.Equal(t, "WETH", meta.Symbol)
	assert.Equal(t, uint8(18), meta.Decimals)

	// 已知代币不再调用
	calls := caller.calls
	dir.Resolve(context.Background(), []common.Address{usdc, weth})
	assert.Equal(t, calls, caller.calls)

	unknown := common.HexToAddress("0x99")
	dir.Resolve(context.Background(), []common.Address{unknown})
	_, ok = dir.Metadata(unknown)
	assert.False(t, ok)
}

func testPlan() model.BatchWithdrawalPlan {
	return model.BatchWithdrawalPlan{
		Items: []model.WithdrawalRequest{
			{ID: "a", Token: usdc, AmountRaw: big.NewInt(100)},
			{ID: "b", Token: weth, AmountRaw: big.NewInt(200)},
		},
		TotalAmountRaw: big.NewInt(300),
	}
}

func TestRelay_Submit(t *testing.T) {
	var got relayRequest
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("X-API-Key")
		body, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.Copy(w, bytes.NewBufferString(`{"tx_hash":"0xfeed","status":"submitted"}`))
	}))
	defer srv.Close()

	relay := NewRelay(config.RelayConfig{URL: srv.URL, APIKey: "secret", Timeout: 5}, 8453, vaultAddr, zap.NewNop())
	txHash, err := relay.ForUser(user).Submit(context.Background(), testPlan())
	require.NoError(t, err)

	assert.Equal(t, "0xfeed", txHash)
	assert.Equal(t, "secret", apiKey)
	assert.Equal(t, uint64(8453), got.ChainID)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", got.User)
	require.Len(t, got.Calls, 2)
	assert.Equal(t, "200", got.Calls[1].Amount)
}

func TestRelay_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(t *testing.T, err error)
	}{
		{"explicit failure", http.StatusOK, `{"status":"failed","error":"insufficient balance"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrRelayRejected)
			assert.ErrorContains(t, err, "insufficient balance")
		}},
		{"server error", http.StatusBadGateway, `upstream down`, func(t *testing.T, err error) {
			var httpErr *httpclient.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, http.StatusBadGateway, httpErr.Code)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			relay := NewRelay(config.RelayConfig{URL: srv.URL, Timeout: 5}, 1, vaultAddr, zap.NewNop())
			_, err := relay.ForUser(user).Submit(context.Background(), testPlan())
			require.Error(t, err)
			tt.wantErr(t, err)
		})
	}
}

func TestRelay_NotConfigured(t *testing.T) {
	relay := NewRelay(config.RelayConfig{}, 1, vaultAddr, zap.NewNop())
	_, err := relay.ForUser(user).Submit(context.Background(), testPlan())
	assert.ErrorIs(t, err, ErrRelayRejected)
}
