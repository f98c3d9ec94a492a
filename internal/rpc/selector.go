package rpc

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/R3E-Network/bridge_client/internal/errors"
)

// Version is the signer network wire protocol a selector speaks.
type Version int

const (
	V1 Version = 1
	V2 Version = 2
)

// String returns "v1" or "v2".
func (v Version) String() string {
	return fmt.Sprintf("v%d", int(v))
}

// legacySelectors are the only selectors served by the version-1 protocol.
var legacySelectors = map[string]struct{}{
	"BTC0Btc2Eth": {},
	"BTC0Eth2Btc": {},
	"ZEC0Zec2Eth": {},
	"ZEC0Eth2Zec": {},
	"BCH0Bch2Eth": {},
	"BCH0Eth2Bch": {},
}

// Classify returns the protocol version for selector. It is the only place
// that decides between the two wire formats.
func Classify(selector string) Version {
	if _, ok := legacySelectors[selector]; ok {
		return V1
	}
	return V2
}

// chainAbbreviations are the short chain names used inside legacy selectors.
var chainAbbreviations = map[string]string{
	"Bitcoin":     "Btc",
	"Ethereum":    "Eth",
	"Zcash":       "Zec",
	"BitcoinCash": "Bch",
}

// Route is a selector broken into its parts.
type Route struct {
	Asset string
	// From and To are chain names. For version-2 selectors only the host
	// chain side is encoded, so the other side is empty.
	From string
	To   string
	Mint bool
}

var (
	legacyPattern = regexp.MustCompile(`^(.*)0(.*)2(.*)$`)
	v2Pattern     = regexp.MustCompile(`^([A-Za-z0-9]+)/(to|from)([A-Za-z0-9]+)$`)
)

// ParseSelector splits selector into asset and chains.
func ParseSelector(selector string) (Route, error) {
	if Classify(selector) == V1 {
		m := legacyPattern.FindStringSubmatch(selector)
		from, to := expandChain(m[2]), expandChain(m[3])
		return Route{
			Asset: m[1],
			From:  from,
			To:    to,
			Mint:  strings.EqualFold(m[2], m[1]),
		}, nil
	}

	m := v2Pattern.FindStringSubmatch(selector)
	if m == nil {
		return Route{}, errors.InvalidInput("selector", fmt.Sprintf("malformed selector %q", selector))
	}
	if m[2] == "to" {
		return Route{Asset: m[1], To: m[3], Mint: true}, nil
	}
	return Route{Asset: m[1], From: m[3], Mint: false}, nil
}

func expandChain(abbr string) string {
	for name, a := range chainAbbreviations {
		if a == abbr {
			return name
		}
	}
	return abbr
}

// lookupSelector builds the selector for moving asset from one chain to
// another. The legacy form is used only when it is whitelisted and legacy
// is enabled.
func lookupSelector(asset, from, to string, mint, legacy bool) string {
	if legacy {
		fa, fok := chainAbbreviations[from]
		ta, tok := chainAbbreviations[to]
		if fok && tok {
			candidate := asset + "0" + fa + "2" + ta
			if Classify(candidate) == V1 {
				return candidate
			}
		}
	}
	if mint {
		return asset + "/to" + to
	}
	return asset + "/from" + from
}
