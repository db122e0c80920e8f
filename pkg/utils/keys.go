package utils

import "fmt"

func LedgerSnapshotKey(chainId uint64, userAddress, queryKind string, window string) string {
	return fmt.Sprintf("oneseed:snapshot:%d:%s:%s:%s", chainId, userAddress, queryKind, window)
}

func PriceKey(source, target string) string {
	return fmt.Sprintf("BYD:price:%s_%s", source, target)
}
