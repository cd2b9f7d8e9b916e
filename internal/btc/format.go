package btc

import (
	"encoding/hex"
	"strconv"
)

func uintStr(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func hexStr(b []byte) string {
	return hex.EncodeToString(b)
}
