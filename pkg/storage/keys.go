package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/guessly/clob/pkg/app/core/account"
)

// Key schema:
//
//	seq                     → next order id (8 bytes, big endian)
//	ord:{%020d id}          → Order (JSON)
//	bal:{address}:{asset}   → balance (8 bytes)
//	alw:{address}           → collateral allowance (8 bytes)
//	apr:{address}           → share approval (1 byte)
//	mkt:{address}           → Market (JSON)
//
// Order ids are zero-padded so a prefix scan returns them in id order.
const (
	keySequence    = "seq"
	prefixOrder    = "ord:"
	prefixBalance  = "bal:"
	prefixAllow    = "alw:"
	prefixApproval = "apr:"
	prefixMarket   = "mkt:"
)

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func balanceKey(owner common.Address, asset account.Asset) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, owner.Hex(), asset))
}

// parseBalanceKey splits "bal:{address}:{asset}". The asset itself contains
// colons, so only the first separator after the address is significant.
func parseBalanceKey(key []byte) (common.Address, account.Asset, error) {
	rest := strings.TrimPrefix(string(key), prefixBalance)
	addr, asset, ok := strings.Cut(rest, ":")
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, account.Asset{}, fmt.Errorf("malformed balance key %q", key)
	}
	a, err := account.ParseAsset(asset)
	if err != nil {
		return common.Address{}, account.Asset{}, err
	}
	return common.HexToAddress(addr), a, nil
}

func allowanceKey(owner common.Address) []byte {
	return []byte(prefixAllow + owner.Hex())
}

func approvalKey(owner common.Address) []byte {
	return []byte(prefixApproval + owner.Hex())
}

func marketKey(addr common.Address) []byte {
	return []byte(prefixMarket + addr.Hex())
}

func addressFromKey(key []byte, prefix string) (common.Address, error) {
	s := strings.TrimPrefix(string(key), prefix)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("malformed key %q", key)
	}
	return common.HexToAddress(s), nil
}

func orderIDFromKey(key []byte) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(string(key), prefixOrder), 10, 64)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
