package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatBytes(b []byte) string {
	return hex.EncodeToString(b)
}

func formatChain(id uint64) string {
	return strconv.FormatUint(id, 10)
}
