// utils/address.go
package utils

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressScheme is one accepted destination format for an asset
type AddressScheme struct {
	Name  string
	Match func(addr string) bool
}

var (
	tronAddress    = regexp.MustCompile(`^T[1-9A-HJ-NP-Za-km-z]{33}$`)
	accountAddress = regexp.MustCompile(`^[1-9][0-9]{4,14}$`)
)

// EVMScheme accepts 0x-prefixed 20-byte hex addresses.
var EVMScheme = AddressScheme{
	Name: "evm",
	Match: func(addr string) bool {
		return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
	},
}

// TronScheme accepts base58 T-addresses (34 chars).
var TronScheme = AddressScheme{
	Name:  "tron",
	Match: tronAddress.MatchString,
}

// AccountScheme accepts a numeric in-app account id.
var AccountScheme = AddressScheme{
	Name:  "account",
	Match: accountAddress.MatchString,
}

// addressSchemes maps an asset label to the formats its payouts can target.
// Assets with no entry cannot be paid out to an address.
var addressSchemes = map[string][]AddressScheme{
	"USDT":  {EVMScheme, TronScheme},
	"STARS": {AccountScheme},
}

// MatchAddress returns the name of the first scheme that accepts addr for
// asset, or "" when none does.
func MatchAddress(asset, addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	for _, s := range addressSchemes[asset] {
		if s.Match(addr) {
			return s.Name
		}
	}
	return ""
}

// AddressSchemeNames lists the formats accepted for asset, for error messages.
func AddressSchemeNames(asset string) []string {
	var names []string
	for _, s := range addressSchemes[asset] {
		names = append(names, s.Name)
	}
	return names
}
