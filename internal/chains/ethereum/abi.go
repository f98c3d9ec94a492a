// Package ethereum implements the destination chain: mint submission
// through the asset gateway contract and burn discovery for releases.
package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const gatewayABIJSON = `[
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[
    {"name":"_pHash","type":"bytes32"},
    {"name":"_amount","type":"uint256"},
    {"name":"_nHash","type":"bytes32"},
    {"name":"_sig","type":"bytes"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"burn","stateMutability":"nonpayable","inputs":[
    {"name":"_to","type":"bytes"},
    {"name":"_amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"LogMint","anonymous":false,"inputs":[
    {"name":"_to","type":"address","indexed":true},
    {"name":"_amount","type":"uint256","indexed":false},
    {"name":"_n","type":"uint256","indexed":true},
    {"name":"_signedMessageHash","type":"bytes32","indexed":true}]},
  {"type":"event","name":"LogBurn","anonymous":false,"inputs":[
    {"name":"_to","type":"bytes","indexed":false},
    {"name":"_amount","type":"uint256","indexed":false},
    {"name":"_n","type":"uint256","indexed":true},
    {"name":"_indexedTo","type":"bytes","indexed":true}]}
]`

// GatewayABI is the asset gateway contract interface.
var GatewayABI = mustParseABI(gatewayABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
