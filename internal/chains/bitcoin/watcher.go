package bitcoin

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/bridge_client/internal/gateway"
)

// watcher polls one gateway address and reports each UTXO once through
// onDeposit, then through onConfirmation whenever its depth changes.
type watcher struct {
	chain *Chain
	addr  btcutil.Address

	// seen maps txid:vout to the last reported confirmation count.
	seen map[string]int64

	onDeposit      func(gateway.Observation)
	onConfirmation func(gateway.Observation)
	log            *logrus.Entry
}

func (w *watcher) run(ctx context.Context) error {
	w.poll()

	ticker := time.NewTicker(w.chain.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *watcher) poll() {
	utxos, err := w.chain.client.ListUnspentMinMaxAddresses(0, maxConfirmations, []btcutil.Address{w.addr})
	if err != nil {
		w.log.WithError(err).Warn("list unspent failed")
		return
	}

	for _, u := range utxos {
		key := fmt.Sprintf("%s:%d", u.TxID, u.Vout)
		last, known := w.seen[key]
		if known && last == u.Confirmations {
			continue
		}

		id, err := txID(u.TxID)
		if err != nil {
			w.log.WithError(err).WithField("txid", u.TxID).Warn("skipping utxo")
			continue
		}
		amount, err := btcutil.NewAmount(u.Amount)
		if err != nil {
			w.log.WithError(err).WithField("txid", u.TxID).Warn("skipping utxo")
			continue
		}
		w.seen[key] = u.Confirmations

		obs := gateway.Observation{
			Tx: gateway.SourceTx{
				TxID:   id,
				Vout:   u.Vout,
				Amount: big.NewInt(int64(amount)),
			},
			Confirmations: int(u.Confirmations),
		}
		if known {
			w.onConfirmation(obs)
			continue
		}
		w.log.WithField("txid", u.TxID).WithField("vout", u.Vout).
			WithField("satoshis", int64(amount)).Info("deposit detected")
		w.onDeposit(obs)
	}
}
