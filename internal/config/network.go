package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Network names.
const (
	NameMainnet  = "mainnet"
	NameTestnet  = "testnet"
	NameDevnet   = "devnet"
	NameLocalnet = "localnet"
)

// Network describes one deployment of the signer network and the chains it bridges.
type Network struct {
	Name string `yaml:"name" env:"BRIDGE_NETWORK"`

	// LightnodeURL is the signer network's JSON-RPC endpoint.
	LightnodeURL string `yaml:"lightnode_url" env:"BRIDGE_LIGHTNODE_URL"`
	// LegacySelectors enables the version-1 selector whitelist.
	LegacySelectors bool `yaml:"legacy_selectors" env:"BRIDGE_LEGACY_SELECTORS"`
	// MintAuthority is the address destination contracts recover signatures to.
	MintAuthority string `yaml:"mint_authority" env:"BRIDGE_MINT_AUTHORITY"`
	// GPubKey overrides the public key returned by the signer network (hex).
	GPubKey string `yaml:"gpubkey" env:"BRIDGE_GPUBKEY"`

	RPCTimeout   time.Duration `yaml:"rpc_timeout" env:"BRIDGE_RPC_TIMEOUT"`
	RPCRetries   int           `yaml:"rpc_retries" env:"BRIDGE_RPC_RETRIES"`
	RPCRateLimit float64       `yaml:"rpc_rate_limit" env:"BRIDGE_RPC_RATE_LIMIT"`
	RPCBurst     int           `yaml:"rpc_burst" env:"BRIDGE_RPC_BURST"`
	PollInterval time.Duration `yaml:"poll_interval" env:"BRIDGE_POLL_INTERVAL"`
	WaitTimeout  time.Duration `yaml:"wait_timeout" env:"BRIDGE_WAIT_TIMEOUT"`

	SessionExpiry time.Duration `yaml:"session_expiry" env:"BRIDGE_SESSION_EXPIRY"`
	// Confirmations overrides the signer network's confirmation target per asset.
	Confirmations map[string]int `yaml:"confirmations"`

	Bitcoin  BitcoinConfig  `yaml:"bitcoin"`
	Ethereum EthereumConfig `yaml:"ethereum"`
}

// BitcoinConfig configures the UTXO source chain.
type BitcoinConfig struct {
	// Params is one of mainnet, testnet3, regtest, simnet.
	Params  string `yaml:"params" env:"BRIDGE_BTC_PARAMS"`
	RPCHost string `yaml:"rpc_host" env:"BRIDGE_BTC_RPC_HOST"`
	RPCUser string `yaml:"rpc_user" env:"BRIDGE_BTC_RPC_USER"`
	RPCPass string `yaml:"-" env:"BRIDGE_BTC_RPC_PASS"`
	// WatchInterval is the deposit polling period.
	WatchInterval time.Duration `yaml:"watch_interval" env:"BRIDGE_BTC_WATCH_INTERVAL"`
}

// EthereumConfig configures the destination chain.
type EthereumConfig struct {
	RPCURL  string `yaml:"rpc_url" env:"BRIDGE_ETH_RPC_URL"`
	ChainID int64  `yaml:"chain_id" env:"BRIDGE_ETH_CHAIN_ID"`
	// Gateways maps asset symbol to gateway contract address.
	Gateways map[string]string `yaml:"gateways"`
	// PrivateKey signs destination submissions (hex, never read from YAML).
	PrivateKey string `yaml:"-" env:"BRIDGE_ETH_PRIVATE_KEY"`
}

func base(name string) Network {
	return Network{
		Name:          name,
		RPCTimeout:    30 * time.Second,
		RPCRetries:    5,
		RPCRateLimit:  10,
		RPCBurst:      20,
		PollInterval:  15 * time.Second,
		WaitTimeout:   24 * time.Hour,
		SessionExpiry: 24 * time.Hour,
		Confirmations: map[string]int{},
		Ethereum:      EthereumConfig{Gateways: map[string]string{}},
	}
}

// Mainnet returns the production network preset.
func Mainnet() Network {
	n := base(NameMainnet)
	n.LightnodeURL = "https://lightnode-mainnet.herokuapp.com"
	n.LegacySelectors = true
	n.Bitcoin = BitcoinConfig{Params: "mainnet", WatchInterval: time.Minute}
	n.Ethereum.ChainID = 1
	return n
}

// Testnet returns the public test network preset.
func Testnet() Network {
	n := base(NameTestnet)
	n.LightnodeURL = "https://lightnode-testnet.herokuapp.com"
	n.LegacySelectors = true
	n.Bitcoin = BitcoinConfig{Params: "testnet3", WatchInterval: 30 * time.Second}
	n.Ethereum.ChainID = 42
	return n
}

// Devnet returns the development network preset. It only speaks version 2.
func Devnet() Network {
	n := base(NameDevnet)
	n.LightnodeURL = "https://lightnode-devnet.herokuapp.com"
	n.Bitcoin = BitcoinConfig{Params: "testnet3", WatchInterval: 30 * time.Second}
	n.Ethereum.ChainID = 42
	return n
}

// Localnet returns a preset for a signer network running on this machine.
func Localnet() Network {
	n := base(NameLocalnet)
	n.LightnodeURL = "http://0.0.0.0:6001"
	n.PollInterval = 2 * time.Second
	n.SessionExpiry = time.Hour
	n.Bitcoin = BitcoinConfig{Params: "regtest", RPCHost: "127.0.0.1:18443", WatchInterval: 2 * time.Second}
	n.Ethereum.RPCURL = "http://127.0.0.1:8545"
	n.Ethereum.ChainID = 1337
	return n
}

// NetworkByName returns the preset called name.
func NetworkByName(name string) (Network, error) {
	switch strings.ToLower(name) {
	case "", NameMainnet:
		return Mainnet(), nil
	case NameTestnet:
		return Testnet(), nil
	case NameDevnet:
		return Devnet(), nil
	case NameLocalnet:
		return Localnet(), nil
	default:
		return Network{}, fmt.Errorf("unknown network %q", name)
	}
}

// Validate checks the network fields needed to run sessions.
func (n Network) Validate() error {
	if n.LightnodeURL == "" {
		return fmt.Errorf("network %s: lightnode_url is required", n.Name)
	}
	if n.MintAuthority != "" && !common.IsHexAddress(n.MintAuthority) {
		return fmt.Errorf("network %s: mint_authority %q is not an address", n.Name, n.MintAuthority)
	}
	for asset, addr := range n.Ethereum.Gateways {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("network %s: gateway for %s %q is not an address", n.Name, asset, addr)
		}
	}
	if n.PollInterval <= 0 {
		return fmt.Errorf("network %s: poll_interval must be positive", n.Name)
	}
	return nil
}

// Authority returns the parsed mint authority address.
func (n Network) Authority() (common.Address, error) {
	if !common.IsHexAddress(n.MintAuthority) {
		return common.Address{}, fmt.Errorf("network %s: mint authority not configured", n.Name)
	}
	return common.HexToAddress(n.MintAuthority), nil
}

// Gateway returns the destination gateway contract for asset.
func (n Network) Gateway(asset string) (common.Address, bool) {
	addr, ok := n.Ethereum.Gateways[strings.ToUpper(asset)]
	if !ok || !common.IsHexAddress(addr) {
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}

// ConfirmationOverride returns the configured confirmation target for asset, if any.
func (n Network) ConfirmationOverride(asset string) (int, bool) {
	c, ok := n.Confirmations[strings.ToUpper(asset)]
	return c, ok
}
