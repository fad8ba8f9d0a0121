package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/shopspring/decimal"
	"golang.org/x/term"

	"github.com/Maphikza/devkit-wallet/internal/wallet/core"
	"github.com/Maphikza/devkit-wallet/lib/transaction"
)

var (
	errInvalidAmount = errors.New("invalid BTC amount")
	errCancelled     = errors.New("cancelled")
)

// parseBTC parses a BTC amount with at most eight decimals.
func parseBTC(s string) (btcutil.Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	sats := d.Shift(8)
	if !sats.IsInteger() || !sats.IsPositive() {
		return 0, fmt.Errorf("%w: %q", errInvalidAmount, s)
	}
	if sats.GreaterThan(decimal.NewFromInt(btcutil.MaxSatoshi)) {
		return 0, fmt.Errorf("%w: %q exceeds the supply", errInvalidAmount, s)
	}
	return btcutil.Amount(sats.IntPart()), nil
}

func formatBTC(amount btcutil.Amount) string {
	return decimal.NewFromInt(int64(amount)).Shift(-8).StringFixed(8) + " BTC"
}

// describeScript renders an output script as its address, or as data for
// OP_RETURN outputs.
func describeScript(script []byte, params *chaincfg.Params) string {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err == nil && len(addrs) == 1 {
		return addrs[0].EncodeAddress()
	}
	if class == txscript.NullDataTy {
		return "OP_RETURN"
	}
	return fmt.Sprintf("%x", script)
}

func parseFeeRate(s string) (transaction.FeeRate, error) {
	rate, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("%w: %q", transaction.ErrInvalidFeeRate, s)
	}
	return transaction.FeeRate(rate), nil
}

func printBalance(balance core.Balance) {
	fmt.Printf("Confirmed:          %s\n", formatBTC(balance.Confirmed))
	fmt.Printf("Trusted pending:    %s\n", formatBTC(balance.TrustedPending))
	fmt.Printf("Untrusted pending:  %s\n", formatBTC(balance.UntrustedPending))
	fmt.Printf("Immature:           %s\n", formatBTC(balance.Immature))
	fmt.Printf("Total:              %s\n", formatBTC(balance.Total()))
}

func printTransactions(txs []core.TxDetails) {
	if len(txs) == 0 {
		fmt.Println("No transactions yet.")
		return
	}
	for _, tx := range txs {
		status := "pending"
		if tx.ConfirmationTime != nil {
			status = fmt.Sprintf("block %d, %s", tx.ConfirmationTime.Height,
				tx.ConfirmationTime.Timestamp.UTC().Format("2006-01-02 15:04"))
		}
		fee := "unknown"
		if tx.Fee != nil {
			fee = formatBTC(*tx.Fee)
		}
		fmt.Printf("%s  %s  net %s  fee %s\n", tx.Txid, status, formatBTC(tx.Net()), fee)
	}
}

func copyToClipboard(text string) {
	if err := clipboard.WriteAll(text); err != nil {
		fmt.Printf("Could not copy to clipboard: %v\n", err)
		return
	}
	fmt.Println("Copied to clipboard.")
}

// readPassphrase prompts without echo when stdin is a terminal.
func readPassphrase(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("error reading passphrase: %w", err)
		}
		return string(raw), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("error reading passphrase: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func readLine(reader *bufio.Reader, prompt string) string {
	fmt.Print(prompt)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func confirm(reader *bufio.Reader, prompt string) error {
	answer := strings.ToLower(readLine(reader, prompt+" (y/n): "))
	if answer != "y" && answer != "yes" {
		return errCancelled
	}
	return nil
}
