package normalizer

import (
	"fmt"
	"strings"

	"oneseed-engine/internal/worker/model"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// OneSeed 合约事件，只保留引擎需要读取的部分
const eventsABI = `[
  {"type":"event","name":"AmountSaved","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"totalSaved","type":"uint256","indexed":false}]},
  {"type":"event","name":"WithdrawalProcessed","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"token","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"actualReceived","type":"uint256","indexed":false},
    {"name":"timelockBroken","type":"bool","indexed":false}]},
  {"type":"event","name":"DCAExecuted","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"fromToken","type":"address","indexed":true},
    {"name":"toToken","type":"address","indexed":true},
    {"name":"fromAmount","type":"uint256","indexed":false},
    {"name":"toAmount","type":"uint256","indexed":false}]},
  {"type":"event","name":"SavingStrategySet","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"percentage","type":"uint256","indexed":false},
    {"name":"autoIncrement","type":"uint256","indexed":false},
    {"name":"maxPercentage","type":"uint256","indexed":false},
    {"name":"savingsTokenType","type":"uint8","indexed":false}]},
  {"type":"event","name":"SlippageExceeded","anonymous":false,"inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"fromToken","type":"address","indexed":true},
    {"name":"toToken","type":"address","indexed":true},
    {"name":"expectedAmount","type":"uint256","indexed":false},
    {"name":"actualAmount","type":"uint256","indexed":false}]}
]`

var eventNames = map[model.Kind]string{
	model.KindSave:           "AmountSaved",
	model.KindWithdraw:       "WithdrawalProcessed",
	model.KindDCA:            "DCAExecuted",
	model.KindStrategyUpdate: "SavingStrategySet",
	model.KindSlippage:       "SlippageExceeded",
}

var parsedABI = mustParseABI(eventsABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse events abi: %v", err))
	}
	return parsed
}

// EventFor 返回该类型对应的 ABI 事件
func EventFor(kind model.Kind) (abi.Event, bool) {
	name, ok := eventNames[kind]
	if !ok {
		return abi.Event{}, false
	}
	ev, ok := parsedABI.Events[name]
	return ev, ok
}

// Topic0 事件签名哈希，未知类型返回零值
func Topic0(kind model.Kind) common.Hash {
	ev, ok := EventFor(kind)
	if !ok {
		return common.Hash{}
	}
	return ev.ID
}
