package evm_client

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Init evm client，配置了 chainID 时校验节点的链是否一致
func Init(rawurl string, expectChainID uint64) *ethclient.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		panic(fmt.Sprintf("Init evm client error: %v", err))
	}

	if expectChainID != 0 {
		chainID, err := client.ChainID(ctx)
		if err != nil {
			panic(fmt.Sprintf("Init evm client chain id error: %v", err))
		}
		if chainID.Uint64() != expectChainID {
			panic(fmt.Sprintf("Init evm client chain id mismatch: want %d got %s", expectChainID, chainID))
		}
	}

	return client
}
