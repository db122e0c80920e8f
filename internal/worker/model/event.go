package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event 解码后的合约事件，封闭的 sum type，只有本包的类型能实现
type Event interface {
	Kind() Kind
	isEvent()
}

// SaveEvent AmountSaved(address indexed user, address indexed token, uint256 amount, uint256 totalSaved)
type SaveEvent struct {
	User       common.Address
	Token      common.Address
	Amount     *big.Int
	TotalSaved *big.Int
}

// WithdrawEvent WithdrawalProcessed(address indexed user, address indexed token, uint256 amount, uint256 actualReceived, bool timelockBroken)
type WithdrawEvent struct {
	User           common.Address
	Token          common.Address
	Amount         *big.Int
	ActualReceived *big.Int
	TimelockBroken bool
}

// DCAEvent DCAExecuted(address indexed user, address indexed fromToken, address indexed toToken, uint256 fromAmount, uint256 toAmount)
type DCAEvent struct {
	User       common.Address
	FromToken  common.Address
	ToToken    common.Address
	FromAmount *big.Int
	ToAmount   *big.Int
}

// StrategyUpdateEvent SavingStrategySet(address indexed user, uint256 percentage, uint256 autoIncrement, uint256 maxPercentage, uint8 savingsTokenType)
type StrategyUpdateEvent struct {
	User             common.Address
	PercentageBps    *big.Int
	AutoIncrementBps *big.Int
	MaxPercentageBps *big.Int
	SavingsTokenType uint8
}

// SlippageEvent SlippageExceeded(address indexed user, address indexed fromToken, address indexed toToken, uint256 expectedAmount, uint256 actualAmount)
type SlippageEvent struct {
	User           common.Address
	FromToken      common.Address
	ToToken        common.Address
	ExpectedAmount *big.Int
	ActualAmount   *big.Int
}

func (SaveEvent) Kind() Kind           { return KindSave }
func (WithdrawEvent) Kind() Kind       { return KindWithdraw }
func (DCAEvent) Kind() Kind            { return KindDCA }
func (StrategyUpdateEvent) Kind() Kind { return KindStrategyUpdate }
func (SlippageEvent) Kind() Kind       { return KindSlippage }

func (SaveEvent) isEvent()           {}
func (WithdrawEvent) isEvent()       {}
func (DCAEvent) isEvent()            {}
func (StrategyUpdateEvent) isEvent() {}
func (SlippageEvent) isEvent()       {}

// LogMeta 原始日志的位置信息
type LogMeta struct {
	TxHash           string
	LogIndex         uint
	BlockNumber      uint64
	TimestampSeconds uint64
	Contract         common.Address
}
