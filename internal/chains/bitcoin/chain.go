package bitcoin

import (
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"golang.org/x/sync/errgroup"

	"github.com/R3E-Network/bridge_client/internal/config"
	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/gateway"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

const (
	// ChainName is the name the signer network uses for this chain.
	ChainName = "Bitcoin"

	// DefaultConfirmations is used when neither the network nor config sets a target.
	DefaultConfirmations = 6
	DefaultWatchInterval = 30 * time.Second

	maxConfirmations = 9999999
	watchAccount     = "bridge"
)

// UTXOClient is the subset of the node RPC the chain uses. *rpcclient.Client
// implements it.
type UTXOClient interface {
	ImportAddressRescan(address, account string, rescan bool) error
	ListUnspentMinMaxAddresses(minConf, maxConf int, addrs []btcutil.Address) ([]btcjson.ListUnspentResult, error)
}

var _ UTXOClient = (*rpcclient.Client)(nil)

// Dial connects to the node described by cfg over HTTP POST.
func Dial(cfg config.BitcoinConfig) (*rpcclient.Client, error) {
	if cfg.RPCHost == "" {
		return nil, errors.InvalidInput("bitcoin.rpc_host", "required")
	}
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.RPCHost,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, errors.SourceInitialize(err)
	}
	return client, nil
}

// Chain is a gateway.SourceChain backed by a bitcoind wallet.
type Chain struct {
	client        UTXOClient
	params        *chaincfg.Params
	interval      time.Duration
	confirmations map[string]int
	log           *logger.Logger
}

var _ gateway.SourceChain = (*Chain)(nil)

// New creates the chain from the network config.
func New(client UTXOClient, network config.Network, log *logger.Logger) (*Chain, error) {
	if client == nil {
		return nil, errors.InvalidInput("bitcoin.client", "required")
	}
	params, err := ParamsByName(network.Bitcoin.Params)
	if err != nil {
		return nil, err
	}
	interval := network.Bitcoin.WatchInterval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	if log == nil {
		log = logger.NewDefault("bitcoin")
	}
	return &Chain{
		client:        client,
		params:        params,
		interval:      interval,
		confirmations: network.Confirmations,
		log:           log,
	}, nil
}

// Name implements gateway.SourceChain.
func (c *Chain) Name() string { return ChainName }

// Params returns the chain params addresses are encoded for.
func (c *Chain) Params() *chaincfg.Params { return c.params }

// ConfirmationTarget implements gateway.SourceChain.
func (c *Chain) ConfirmationTarget(asset string) int {
	if n, ok := c.confirmations[asset]; ok && n > 0 {
		return n
	}
	return DefaultConfirmations
}

// DeriveDepositAddress implements gateway.SourceChain.
func (c *Chain) DeriveDepositAddress(_ context.Context, p gateway.AddressParams) (string, error) {
	addr, err := GatewayAddress(c.params, p.GHash, p.GPubKey)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// WatchDeposits implements gateway.SourceChain. The address is imported into
// the node's wallet without a rescan, then polled every interval.
func (c *Chain) WatchDeposits(ctx context.Context, address string, onDeposit, onConfirmation func(gateway.Observation)) (gateway.Subscription, error) {
	addr, err := btcutil.DecodeAddress(address, c.params)
	if err != nil {
		return nil, errors.InvalidInput("address", err.Error())
	}
	if err := c.client.ImportAddressRescan(addr.EncodeAddress(), watchAccount, false); err != nil {
		return nil, errors.TransientNetwork(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	w := &watcher{
		chain:          c,
		addr:           addr,
		seen:           make(map[string]int64),
		onDeposit:      onDeposit,
		onConfirmation: onConfirmation,
		log:            c.log.WithField("address", address),
	}
	g.Go(func() error { return w.run(gctx) })

	return &subscription{cancel: cancel, group: g}, nil
}

type subscription struct {
	once   sync.Once
	cancel context.CancelFunc
	group  *errgroup.Group
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		_ = s.group.Wait()
	})
}

// txID converts a node txid (display order) into internal byte order.
func txID(s string) ([]byte, error) {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return nil, errors.SchemaMismatch("txid", err.Error())
	}
	return h.CloneBytes(), nil
}
