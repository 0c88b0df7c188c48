package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func uintString(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func withHexPrefix(raw []byte) string {
	if len(raw) == 0 {
		return "0x"
	}
	return "0x" + hex.EncodeToString(raw)
}
