package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Maphikza/devkit-wallet/internal/config"
)

var (
	dataDir string
	current *app
)

var rootCmd = &cobra.Command{
	Use:   "devkit-wallet",
	Short: "Bitcoin testnet wallet",
	Long: `A single-signature BIP84 Bitcoin wallet. Run without arguments for
the interactive menu, or use one of the commands below.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(dataDir, bufio.NewReader(os.Stdin))
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", config.DefaultDataDir(), "directory holding config.json and the wallet files")

	for _, cmd := range []*cobra.Command{createCmd, recoverCmd} {
		cmd.Flags().Bool("encrypt", false, "seal the wallet repository with a storage passphrase")
		cmd.Flags().Bool("force", false, "replace an existing wallet without asking")
	}
	balanceCmd.Flags().Bool("sync", false, "sync before showing the balance")
	addressCmd.Flags().Bool("new", false, "reveal a new address")
	addressCmd.Flags().Bool("unused", true, "show the last unused address")
	addressCmd.Flags().Bool("copy", false, "copy the address to the clipboard")
	addressCmd.MarkFlagsMutuallyExclusive("new", "unused")
	for _, cmd := range []*cobra.Command{sendCmd, sendAllCmd} {
		cmd.Flags().Float64("fee-rate", 0, "fee rate in sat/vB, estimated when not set")
		cmd.Flags().Bool("rbf", true, "signal replace-by-fee")
		cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	}
	sendCmd.Flags().String("data", "", "text to embed in an OP_RETURN output")
	bumpFeeCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	historyCmd.Flags().Bool("sync", false, "sync before listing transactions")
	feeEstimateCmd.Flags().Int("target", defaultConfirmationTarget, "confirmation target in blocks")
	deleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	electrumCmd.Flags().Bool("default", false, "switch back to the default Electrum server")

	rootCmd.AddCommand(
		createCmd,
		recoverCmd,
		balanceCmd,
		addressCmd,
		syncCmd,
		sendCmd,
		sendAllCmd,
		bumpFeeCmd,
		historyCmd,
		feeEstimateCmd,
		seedCmd,
		deleteCmd,
		electrumCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if len(os.Args) > 1 {
		// CLI mode
		if err := rootCmd.ExecuteContext(ctx); err != nil {
			os.Exit(1)
		}
		return
	}

	// Interactive mode
	a, err := newApp(dataDir, bufio.NewReader(os.Stdin))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer a.close()
	interactiveMode(ctx, a)
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new wallet",
	Long: `Create a new wallet and print its recovery phrase. A wallet already in the
data directory is only replaced after confirmation, or with --force.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		force, _ := cmd.Flags().GetBool("force")
		return current.createWallet(encrypt, force)
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover [phrase]",
	Short: "Recover a wallet from its recovery phrase",
	Long:  `Recover a wallet from its 12 word recovery phrase. The phrase is prompted for when not given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		encrypt, _ := cmd.Flags().GetBool("encrypt")
		force, _ := cmd.Flags().GetBool("force")
		phrase := ""
		if len(args) == 1 {
			phrase = args[0]
		}
		return current.recoverWallet(phrase, encrypt, force)
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the wallet balance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.load(); err != nil {
			return err
		}
		sync, _ := cmd.Flags().GetBool("sync")
		return current.showBalance(cmd.Context(), sync)
	},
}

var addressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show a receive address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.load(); err != nil {
			return err
		}
		reveal, _ := cmd.Flags().GetBool("new")
		copyAddress, _ := cmd.Flags().GetBool("copy")
		return current.showAddress(reveal, copyAddress)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the wallet with the chain backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.load(); err != nil {
			return err
		}
		return current.showBalance(cmd.Context(), true)
	},
}

func sendOptionsFromFlags(cmd *cobra.Command) sendOptions {
	var opts sendOptions
	opts.feeRate, _ = cmd.Flags().GetFloat64("fee-rate")
	opts.rbf, _ = cmd.Flags().GetBool("rbf")
	opts.yes, _ = cmd.Flags().GetBool("yes")
	if cmd.Flags().Lookup("data") != nil {
		opts.data, _ = cmd.Flags().GetString("data")
	}
	return opts
}

var sendCmd = &cobra.Command{
	Use:   "send [address] [amount-btc]",
	Short: "Send bitcoin to an address",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.load(); err != nil {
			return err
		}
		return current.send(cmd.Context(), args[0], args[1], sendOptionsFromFlags(cmd))
	},
}

var sendAllCmd = &cobra.Command{
	Use:   "send-all [address]",
	Short: "Send every spendable output to an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.load(); err != nil {
			return err
		}
		return current.sendAll(cmd.Context(), args[0], sendOptionsFromFlags(cmd))
	},
}

var bumpFeeCmd = &cobra.Command{
	Use:   "bump-fee [txid] [fee-rate]",
	Short: "Replace an unconfirmed transaction at a higher fee rate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.load(); err != nil {
			return err
		}
		yes, _ := cmd.Flags().GetBool("yes")
		return current.bumpFee(cmd.Context(), args[0], args[1], yes)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List wallet transactions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.load(); err != nil {
			return err
		}
		sync, _ := cmd.Flags().GetBool("sync")
		return current.history(cmd.Context(), sync)
	},
}

var feeEstimateCmd = &cobra.Command{
	Use:   "fee-estimate",
	Short: "Estimate a fee rate from the chain backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetInt("target")
		return current.feeEstimate(cmd.Context(), target)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Show the recovery phrase",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return current.showSeed()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the wallet",
	Long:  `Delete the saved wallet and its local database. The recovery phrase is gone afterwards, so back it up first.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		return current.deleteWallet(yes)
	},
}

var electrumCmd = &cobra.Command{
	Use:   "electrum [server]",
	Short: "Show or change the Electrum server",
	Long: `Show the Electrum server, or switch to a custom one given as
ssl://host:port or tcp://host:port. Use --default to go back to the default server.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		useDefault, _ := cmd.Flags().GetBool("default")
		server := ""
		if len(args) == 1 {
			server = args[0]
		}
		if useDefault && server != "" {
			return fmt.Errorf("give either a server or --default")
		}
		return current.electrumServer(server, useDefault)
	},
}

func interactiveMode(ctx context.Context, a *app) {
	for {
		fmt.Println("\nBitcoin Wallet Manager")
		fmt.Println("1. Create a new wallet")
		fmt.Println("2. Recover a wallet")
		fmt.Println("3. Open the existing wallet")
		fmt.Println("4. Delete the wallet")
		fmt.Println("5. Exit")
		choice := readLine(a.reader, "\nEnter your choice (1-5): ")

		var err error
		switch choice {
		case "1":
			encrypt := readLine(a.reader, "Encrypt the wallet files with a passphrase? (y/n): ") == "y"
			err = a.createWallet(encrypt, false)
		case "2":
			encrypt := readLine(a.reader, "Encrypt the wallet files with a passphrase? (y/n): ") == "y"
			err = a.recoverWallet("", encrypt, false)
		case "3":
			err = a.load()
		case "4":
			if err := a.deleteWallet(false); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			continue
		case "5":
			fmt.Println("Exiting program. Goodbye!")
			return
		default:
			fmt.Println("Invalid choice. Please try again.")
			continue
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		walletMenu(ctx, a)
		return
	}
}

func walletMenu(ctx context.Context, a *app) {
	for {
		fmt.Println("\nWallet")
		fmt.Println("1. Balance")
		fmt.Println("2. Sync")
		fmt.Println("3. Receive address")
		fmt.Println("4. New receive address")
		fmt.Println("5. Send")
		fmt.Println("6. Send all")
		fmt.Println("7. Bump fee")
		fmt.Println("8. Transaction history")
		fmt.Println("9. Fee estimate")
		fmt.Println("10. Show recovery phrase")
		fmt.Println("11. Electrum server")
		fmt.Println("12. Exit")
		choice := readLine(a.reader, "\nEnter your choice: ")

		var err error
		switch choice {
		case "1":
			err = a.showBalance(ctx, false)
		case "2":
			err = a.showBalance(ctx, true)
		case "3":
			err = a.showAddress(false, readLine(a.reader, "Copy to clipboard? (y/n): ") == "y")
		case "4":
			err = a.showAddress(true, readLine(a.reader, "Copy to clipboard? (y/n): ") == "y")
		case "5":
			address := readLine(a.reader, "Recipient address: ")
			amount := readLine(a.reader, "Amount in BTC: ")
			opts, perr := promptSendOptions(a)
			if perr != nil {
				err = perr
				break
			}
			err = a.send(ctx, address, amount, opts)
		case "6":
			address := readLine(a.reader, "Recipient address: ")
			opts, perr := promptSendOptions(a)
			if perr != nil {
				err = perr
				break
			}
			err = a.sendAll(ctx, address, opts)
		case "7":
			txid := readLine(a.reader, "Transaction id: ")
			rate := readLine(a.reader, "New fee rate (sat/vB): ")
			err = a.bumpFee(ctx, txid, rate, false)
		case "8":
			err = a.history(ctx, false)
		case "9":
			err = a.feeEstimate(ctx, defaultConfirmationTarget)
		case "10":
			err = a.showSeed()
		case "11":
			server := readLine(a.reader, "New server, \"default\", or empty to keep the current one: ")
			if server == "default" {
				err = a.electrumServer("", true)
			} else {
				err = a.electrumServer(server, false)
			}
		case "12":
			fmt.Println("Exiting wallet. Goodbye!")
			return
		default:
			fmt.Println("Invalid choice. Please try again.")
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

func promptSendOptions(a *app) (sendOptions, error) {
	opts := sendOptions{rbf: true}
	if rate := readLine(a.reader, "Fee rate in sat/vB (empty to estimate): "); rate != "" {
		parsed, err := strconv.ParseFloat(rate, 64)
		if err != nil || parsed <= 0 {
			return opts, fmt.Errorf("invalid fee rate %q", rate)
		}
		opts.feeRate = parsed
	}
	opts.rbf = readLine(a.reader, "Allow fee bumping (RBF)? (y/n): ") != "n"
	return opts, nil
}
