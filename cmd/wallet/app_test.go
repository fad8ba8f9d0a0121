package main

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maphikza/devkit-wallet/internal/config"
	"github.com/Maphikza/devkit-wallet/internal/wallet"
	"github.com/Maphikza/devkit-wallet/lib/chain/electrum"
)

const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// newTestApp returns an app over a fresh data directory that reads its
// answers from input.
func newTestApp(t *testing.T, input string) *app {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	require.NoError(t, err)
	a := &app{cfg: cfg, reader: bufio.NewReader(strings.NewReader(input))}
	require.NoError(t, a.openRepository(""))
	t.Cleanup(func() { a.wallet.Close() })
	return a
}

func TestCreateAsksBeforeReplacing(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "n\ny\n")
	require.NoError(t, a.recoverWallet(testPhrase, false, false))

	require.ErrorIs(t, a.createWallet(false, false), errCancelled)
	phrase, err := a.wallet.Mnemonic()
	require.NoError(t, err)
	assert.Equal(t, testPhrase, phrase)

	require.NoError(t, a.createWallet(false, false))
	phrase, err = a.wallet.Mnemonic()
	require.NoError(t, err)
	assert.NotEqual(t, testPhrase, phrase)

	// --force skips the question, the input is exhausted by now.
	require.NoError(t, a.recoverWallet(testPhrase, false, true))
	phrase, err = a.wallet.Mnemonic()
	require.NoError(t, err)
	assert.Equal(t, testPhrase, phrase)
}

func TestSeedAsksForPassphrase(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "y\ns3cret\n")
	require.NoError(t, a.openRepository("s3cret"))
	require.NoError(t, a.recoverWallet(testPhrase, false, true))

	// A fresh repository handle has no passphrase yet.
	require.NoError(t, a.openRepository(""))
	require.NoError(t, a.showSeed())

	phrase, err := a.wallet.Mnemonic()
	require.NoError(t, err)
	assert.Equal(t, testPhrase, phrase)
}

func TestDeleteWalletCommand(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "n\n")
	require.ErrorIs(t, a.deleteWallet(true), wallet.ErrNoWallet)

	require.NoError(t, a.recoverWallet(testPhrase, false, false))
	require.ErrorIs(t, a.deleteWallet(false), errCancelled)
	assert.True(t, a.wallet.HasWallet())

	require.NoError(t, a.deleteWallet(true))
	assert.False(t, a.wallet.HasWallet())
	require.ErrorIs(t, a.load(), wallet.ErrNoWallet)
}

func TestElectrumServer(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "")
	require.NoError(t, a.electrumServer("", false))
	assert.True(t, a.cfg.IsElectrumServerDefault())

	require.NoError(t, a.electrumServer("tcp://localhost:50001", false))
	assert.Equal(t, "tcp://localhost:50001", a.cfg.ElectrumURL())

	reloaded, err := config.Load(a.cfg.DataDir)
	require.NoError(t, err)
	assert.False(t, reloaded.IsElectrumServerDefault())

	require.ErrorIs(t, a.electrumServer("udp://localhost:50001", false), electrum.ErrInvalidServer)
	assert.Equal(t, "tcp://localhost:50001", a.cfg.ElectrumURL())

	require.NoError(t, a.electrumServer("", true))
	assert.Equal(t, config.DefaultElectrumServer, a.cfg.ElectrumURL())
}
