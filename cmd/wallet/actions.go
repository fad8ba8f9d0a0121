package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	log "github.com/sirupsen/logrus"

	"github.com/Maphikza/devkit-wallet/internal/config"
	"github.com/Maphikza/devkit-wallet/internal/wallet"
	"github.com/Maphikza/devkit-wallet/lib/chain/electrum"
	"github.com/Maphikza/devkit-wallet/lib/transaction"
)

const defaultConfirmationTarget = 6

// confirmReplace guards create and recover against silently replacing a
// saved wallet.
func (a *app) confirmReplace(force bool) error {
	if force || !a.wallet.HasWallet() {
		return nil
	}
	fmt.Println("A wallet already exists in this data directory.")
	fmt.Println("Replacing it deletes its recovery phrase. Make sure it is backed up.")
	return confirm(a.reader, "Replace the existing wallet?")
}

func (a *app) createWallet(encrypt, force bool) error {
	if err := a.confirmReplace(force); err != nil {
		return err
	}
	if err := a.useNewPassphrase(encrypt); err != nil {
		return err
	}
	if err := a.wallet.CreateWallet(); err != nil {
		return err
	}
	phrase, err := a.wallet.Mnemonic()
	if err != nil {
		return err
	}

	fmt.Println("Your new recovery phrase is:")
	fmt.Println(phrase)
	fmt.Println("Please write this down and keep it safe.")
	return a.showAddress(false, false)
}

func (a *app) recoverWallet(phrase string, encrypt, force bool) error {
	if err := a.confirmReplace(force); err != nil {
		return err
	}
	if phrase == "" {
		phrase = readLine(a.reader, "Enter your 12 word recovery phrase: ")
	}
	if err := a.useNewPassphrase(encrypt); err != nil {
		return err
	}
	if err := a.wallet.RecoverWallet(strings.Join(strings.Fields(phrase), " ")); err != nil {
		return err
	}
	fmt.Println("Wallet recovered. Run sync to find its transactions.")
	return nil
}

func (a *app) showBalance(ctx context.Context, sync bool) error {
	if sync {
		if err := a.sync(ctx); err != nil {
			return err
		}
	}
	balance, err := a.wallet.GetBalance()
	if err != nil {
		return err
	}
	printBalance(balance)
	return nil
}

func (a *app) showAddress(reveal, copyAddress bool) error {
	info, err := a.wallet.GetLastUnusedAddress()
	if reveal {
		info, err = a.wallet.GetNewAddress()
	}
	if err != nil {
		return err
	}
	address := info.Address.EncodeAddress()
	fmt.Printf("Address %d: %s\n", info.Index, address)
	if copyAddress {
		copyToClipboard(address)
	}
	return nil
}

func (a *app) feeRateOrEstimate(ctx context.Context, rate float64) transaction.FeeRate {
	if rate > 0 {
		return transaction.FeeRate(rate)
	}
	estimate, err := a.wallet.EstimateFeeRate(ctx, defaultConfirmationTarget)
	if err != nil {
		log.WithError(err).Warn("fee estimation failed, using the minimum rate")
		return transaction.DefaultFeeRate
	}
	return estimate
}

type sendOptions struct {
	feeRate float64
	rbf     bool
	data    string
	yes     bool
}

func (a *app) send(ctx context.Context, address string, amount string, opts sendOptions) error {
	sats, err := parseBTC(amount)
	if err != nil {
		return err
	}
	if err := a.sync(ctx); err != nil {
		return err
	}

	rate := a.feeRateOrEstimate(ctx, opts.feeRate)
	recipients := []transaction.Recipient{{Address: address, Amount: sats}}
	packet, err := a.wallet.CreateTransaction(recipients, rate, opts.rbf, []byte(opts.data))
	if err != nil {
		return err
	}
	return a.signAndBroadcast(ctx, packet, rate, opts.yes)
}

func (a *app) sendAll(ctx context.Context, address string, opts sendOptions) error {
	if err := a.sync(ctx); err != nil {
		return err
	}

	rate := a.feeRateOrEstimate(ctx, opts.feeRate)
	packet, err := a.wallet.CreateSendAllTransaction(address, rate, opts.rbf)
	if err != nil {
		return err
	}
	return a.signAndBroadcast(ctx, packet, rate, opts.yes)
}

func (a *app) bumpFee(ctx context.Context, txid string, feeRate string, yes bool) error {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return fmt.Errorf("invalid txid %q: %w", txid, err)
	}
	rate, err := parseFeeRate(feeRate)
	if err != nil {
		return err
	}
	if err := a.sync(ctx); err != nil {
		return err
	}

	packet, err := a.wallet.CreateBumpFeeTransaction(*hash, rate)
	if err != nil {
		return err
	}
	return a.signAndBroadcast(ctx, packet, rate, yes)
}

func (a *app) signAndBroadcast(ctx context.Context, packet *psbt.Packet, rate transaction.FeeRate, yes bool) error {
	fee, err := packet.GetTxFee()
	if err != nil {
		return err
	}

	fmt.Println("Outputs:")
	for _, out := range packet.UnsignedTx.TxOut {
		fmt.Printf("  %s  %s\n", describeScript(out.PkScript, a.wallet.Params()), formatBTC(btcutil.Amount(out.Value)))
	}
	fmt.Printf("Fee: %s at %s\n", formatBTC(fee), rate)

	if !yes {
		if err := confirm(a.reader, "Sign and broadcast?"); err != nil {
			return err
		}
	}

	finalized, err := a.wallet.Sign(packet)
	if err != nil {
		return err
	}
	if !finalized {
		return fmt.Errorf("transaction is not fully signed")
	}

	txid, err := a.wallet.Broadcast(ctx, packet)
	if err != nil {
		return err
	}
	fmt.Printf("Transaction broadcast: %s\n", txid)
	return nil
}

func (a *app) history(ctx context.Context, sync bool) error {
	if sync {
		if err := a.sync(ctx); err != nil {
			return err
		}
	}
	history, err := a.wallet.GetAllTransactions()
	if err != nil {
		return err
	}
	fmt.Println("Pending:")
	printTransactions(history.Pending)
	fmt.Println("Confirmed:")
	printTransactions(history.Confirmed)
	return nil
}

func (a *app) feeEstimate(ctx context.Context, target int) error {
	rate, err := a.wallet.EstimateFeeRate(ctx, target)
	if err != nil {
		return err
	}
	fmt.Printf("Estimated fee rate for %d blocks: %s\n", target, rate)
	return nil
}

func (a *app) showSeed() error {
	if err := confirm(a.reader, "Show the recovery phrase on screen?"); err != nil {
		return err
	}
	var phrase string
	err := a.withPassphrase(func() (err error) {
		phrase, err = a.wallet.Mnemonic()
		return err
	})
	if err != nil {
		return err
	}
	fmt.Println(phrase)
	return nil
}

func (a *app) deleteWallet(yes bool) error {
	if !a.wallet.HasWallet() {
		return wallet.ErrNoWallet
	}
	if !yes {
		if err := confirm(a.reader, "Are you sure you want to delete this wallet? This action cannot be undone."); err != nil {
			return err
		}
	}
	if err := a.withPassphrase(func() error { return a.wallet.DeleteWallet() }); err != nil {
		return err
	}
	fmt.Println("Wallet deleted successfully.")
	return nil
}

// electrumServer shows the Electrum server, or switches it when server is
// set or useDefault is true.
func (a *app) electrumServer(server string, useDefault bool) error {
	switch {
	case useDefault:
		if err := a.cfg.UseDefaultElectrum(); err != nil {
			return fmt.Errorf("error saving configuration: %w", err)
		}
	case server != "":
		if _, _, err := electrum.ParseServer(server); err != nil {
			return err
		}
		if err := a.cfg.UseCustomElectrum(server); err != nil {
			return fmt.Errorf("error saving configuration: %w", err)
		}
	}

	mode := "custom"
	if a.cfg.IsElectrumServerDefault() {
		mode = "default"
	}
	fmt.Printf("Electrum server: %s (%s)\n", a.cfg.ElectrumURL(), mode)
	if a.cfg.ChainBackend != config.BackendElectrum {
		fmt.Printf("The wallet syncs through %s. Set chain_backend to electrum in config.json to use this server.\n", a.cfg.ChainBackend)
	}
	return nil
}
