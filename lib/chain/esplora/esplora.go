// Package esplora is a chain.Source backed by an Esplora REST API.
package esplora

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/sony/gobreaker"
	"go.uber.org/ratelimit"

	"github.com/Maphikza/devkit-wallet/lib/chain"
)

const (
	defaultTimeout = 30 * time.Second
	// Esplora returns confirmed history in pages of this size.
	chainPageSize = 25
)

var ErrUnexpectedStatus = errors.New("unexpected esplora response")

// Esplora talks to an Esplora instance.
type Esplora struct {
	apiURL  string
	client  *http.Client
	limiter ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New returns a source for apiURL, issuing at most requestsPerSecond
// requests. A non positive rate disables limiting.
func New(apiURL string, requestsPerSecond int) *Esplora {
	limiter := ratelimit.NewUnlimited()
	if requestsPerSecond > 0 {
		limiter = ratelimit.New(requestsPerSecond)
	}
	return &Esplora{
		apiURL:  strings.TrimSuffix(apiURL, "/"),
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: limiter,
		breaker: newCircuitBreaker(),
	}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrUnexpectedStatus, e.status, strings.TrimSpace(e.body))
}

func (e *statusError) Unwrap() error { return ErrUnexpectedStatus }

// request performs an HTTP call through the rate limiter and circuit breaker.
// Only transport errors and 5xx responses count as breaker failures.
func (e *Esplora) request(ctx context.Context, method, path, body string, header map[string]string) (int, []byte, error) {
	type response struct {
		status int
		body   []byte
	}

	result, err := e.breaker.Execute(func() (interface{}, error) {
		e.limiter.Take()

		var reader io.Reader
		if body != "" {
			reader = bytes.NewBufferString(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, e.apiURL+path, reader)
		if err != nil {
			return nil, err
		}
		for k, v := range header {
			req.Header.Set(k, v)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, &statusError{status: resp.StatusCode, body: string(data)}
		}
		return response{status: resp.StatusCode, body: data}, nil
	})
	if err != nil {
		return 0, nil, err
	}

	r := result.(response)
	return r.status, r.body, nil
}

func (e *Esplora) get(ctx context.Context, path string) ([]byte, error) {
	status, body, err := e.request(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &statusError{status: status, body: string(body)}
	}
	return body, nil
}

// Ping checks the service is reachable.
func (e *Esplora) Ping(ctx context.Context) error {
	_, err := e.TipHeight(ctx)
	return err
}

// TipHeight returns the height of the best block.
func (e *Esplora) TipHeight(ctx context.Context) (int32, error) {
	body, err := e.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height %q: %w", body, err)
	}
	return int32(height), nil
}

// ScriptHistory returns every transaction touching script, mempool included.
func (e *Esplora) ScriptHistory(ctx context.Context, script []byte) ([]chain.HistoryTx, error) {
	hash := sha256.Sum256(script)
	scriptHash := hex.EncodeToString(hash[:])

	body, err := e.get(ctx, fmt.Sprintf("/scripthash/%s/txs", scriptHash))
	if err != nil {
		return nil, err
	}
	page, err := parseTransactions(body)
	if err != nil {
		return nil, err
	}

	history := make([]chain.HistoryTx, 0, len(page))
	confirmed := 0
	lastConfirmed := ""
	for _, tx := range page {
		entry, err := tx.toHistory()
		if err != nil {
			return nil, err
		}
		history = append(history, entry)
		if tx.Status.Confirmed {
			confirmed++
			lastConfirmed = tx.Txid
		}
	}

	// The first page carries at most one page of confirmed history, the rest
	// is walked by last seen txid.
	for confirmed >= chainPageSize {
		body, err := e.get(ctx, fmt.Sprintf("/scripthash/%s/txs/chain/%s", scriptHash, lastConfirmed))
		if err != nil {
			return nil, err
		}
		page, err := parseTransactions(body)
		if err != nil {
			return nil, err
		}
		confirmed = 0
		for _, tx := range page {
			entry, err := tx.toHistory()
			if err != nil {
				return nil, err
			}
			history = append(history, entry)
			confirmed++
			lastConfirmed = tx.Txid
		}
	}

	return history, nil
}

// Transaction fetches a raw transaction.
func (e *Esplora) Transaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	body, err := e.get(ctx, fmt.Sprintf("/tx/%s/hex", txid))
	if err != nil {
		return nil, err
	}
	return decodeTx(strings.TrimSpace(string(body)))
}

// Broadcast posts the serialized transaction and returns the txid echoed
// back by the service.
func (e *Esplora) Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return chainhash.Hash{}, err
	}
	headers := map[string]string{
		"Content-Type": "text/plain",
	}

	status, body, err := e.request(ctx, http.MethodPost, "/tx", hex.EncodeToString(buf.Bytes()), headers)
	if err != nil {
		return chainhash.Hash{}, err
	}
	if status != http.StatusOK {
		return chainhash.Hash{}, &statusError{status: status, body: string(body)}
	}

	txid, err := chainhash.NewHashFromStr(strings.TrimSpace(string(body)))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid txid in broadcast response: %w", err)
	}
	return *txid, nil
}

// EstimateFee returns the sat/vB estimate for the closest target at or below
// the requested one.
func (e *Esplora) EstimateFee(ctx context.Context, target int) (float64, error) {
	body, err := e.get(ctx, "/fee-estimates")
	if err != nil {
		return 0, err
	}

	var estimates map[string]float64
	if err := json.Unmarshal(body, &estimates); err != nil {
		return 0, fmt.Errorf("invalid fee estimates: %w", err)
	}

	targets := make([]int, 0, len(estimates))
	byTarget := make(map[int]float64, len(estimates))
	for k, v := range estimates {
		n, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		targets = append(targets, n)
		byTarget[n] = v
	}
	if len(targets) == 0 {
		return 0, fmt.Errorf("%w: no fee estimates", ErrUnexpectedStatus)
	}
	sort.Ints(targets)

	best := targets[0]
	for _, n := range targets {
		if n > target {
			break
		}
		best = n
	}
	return byTarget[best], nil
}

// Close is a no-op, HTTP connections are pooled by the client.
func (e *Esplora) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
