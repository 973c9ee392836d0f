package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/faults"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	writeGasLimit       = 300_000
	receiptPollInterval = 2 * time.Second
	confirmWaitFactor   = 8
)

// rpcClient is the narrow RPC surface the connector needs from one endpoint.
// Params: read/write/receipt operations used by the failover wrapper.
// Returns: interface satisfied by ethclient.Client and by test fakes.
type rpcClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// endpoint wraps one dialed RPC client with liveness bookkeeping.
// Params: endpoint URL, client handle, and mutable health flag.
// Returns: failover unit inside the connector.
type endpoint struct {
	url     string
	client  rpcClient
	healthy bool
}

// Connector wraps one primary and N backup RPC endpoints with failover.
// Params: endpoint ring, signer key, and confirmation/deadline policy.
// Returns: chain access layer for monitor, engine, and incident manager.
type Connector struct {
	mu            sync.Mutex
	endpoints     []*endpoint
	active        int
	signer        *ecdsa.PrivateKey
	signerAddr    common.Address
	chainID       *big.Int
	confirmations uint64
	callTimeout   time.Duration
	logger        *slog.Logger
}

// New dials primary and backup endpoints and prepares the signer.
// Params: chain config and logger.
// Returns: initialized connector or dial/key error.
func New(cfg config.ChainConfig, logger *slog.Logger) (*Connector, error) {
	urls := append([]string{cfg.PrimaryURL}, cfg.BackupURLs...)
	endpoints := make([]*endpoint, 0, len(urls))
	for _, url := range urls {
		client, err := ethclient.Dial(url)
		if err != nil {
			for _, dialed := range endpoints {
				dialed.client.Close()
			}
			return nil, fmt.Errorf("dial rpc endpoint %q: %w", url, err)
		}
		endpoints = append(endpoints, &endpoint{url: url, client: client, healthy: true})
	}

	connector := &Connector{
		endpoints:     endpoints,
		chainID:       big.NewInt(cfg.ChainID),
		confirmations: cfg.Confirmations,
		callTimeout:   time.Duration(cfg.CallTimeoutSec) * time.Second,
		logger:        logger,
	}
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			connector.Close()
			return nil, fmt.Errorf("parse chain private key: %w", err)
		}
		connector.signer = key
		connector.signerAddr = crypto.PubkeyToAddress(key.PublicKey)
	}
	return connector, nil
}

// newWithClients builds connector over pre-built clients for tests.
// Params: client list, chain id, confirmation depth, and call timeout.
// Returns: connector without dialing.
func newWithClients(clients []rpcClient, chainID *big.Int, confirmations uint64, callTimeout time.Duration, logger *slog.Logger) *Connector {
	endpoints := make([]*endpoint, 0, len(clients))
	for i, client := range clients {
		endpoints = append(endpoints, &endpoint{url: fmt.Sprintf("fake-%d", i), client: client, healthy: true})
	}
	return &Connector{
		endpoints:     endpoints,
		chainID:       chainID,
		confirmations: confirmations,
		callTimeout:   callTimeout,
		logger:        logger,
	}
}

// ActiveEndpoint returns the URL currently selected for calls.
// Params: none.
// Returns: active endpoint URL or empty string when all are unhealthy.
func (c *Connector) ActiveEndpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, err := c.activeLocked()
	if err != nil {
		return ""
	}
	return active.url
}

// activeLocked returns the active healthy endpoint.
// Params: connector lock must be held by caller.
// Returns: endpoint or transient error when every endpoint is down.
func (c *Connector) activeLocked() (*endpoint, error) {
	if c.endpoints[c.active].healthy {
		return c.endpoints[c.active], nil
	}
	for i, candidate := range c.endpoints {
		if candidate.healthy {
			c.active = i
			return candidate, nil
		}
	}
	return nil, faults.MarkTransient(errors.New("all rpc endpoints unhealthy"))
}

// Probe checks the active endpoint and rotates to a healthy backup on failure.
// Params: context for the liveness calls.
// Returns: probe outcome after applying health transitions.
func (c *Connector) Probe(ctx context.Context) error {
	c.mu.Lock()
	probeIndex := c.active
	target := c.endpoints[probeIndex]
	c.mu.Unlock()

	if c.probeEndpoint(ctx, target) {
		c.mu.Lock()
		target.healthy = true
		c.mu.Unlock()
		return nil
	}
	if c.logger != nil {
		c.logger.Warn("rpc endpoint failed liveness probe", "endpoint", target.url)
	}

	c.mu.Lock()
	target.healthy = false
	candidates := make([]*endpoint, 0, len(c.endpoints))
	for i, candidate := range c.endpoints {
		if i == probeIndex {
			continue
		}
		candidates = append(candidates, candidate)
	}
	c.mu.Unlock()

	for _, candidate := range candidates {
		alive := c.probeEndpoint(ctx, candidate)
		c.mu.Lock()
		candidate.healthy = alive
		c.mu.Unlock()
		if alive {
			if c.logger != nil {
				c.logger.Info("rpc failover switched endpoint", "from", target.url, "to", candidate.url)
			}
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.activeLocked()
	return err
}

// probeEndpoint runs one bounded liveness call against one endpoint.
// Params: caller context and endpoint to probe.
// Returns: true when the endpoint answered within the call timeout.
func (c *Connector) probeEndpoint(ctx context.Context, target *endpoint) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	_, err := target.client.BlockNumber(probeCtx)
	return err == nil
}

// clientSnapshot selects the active client for one call.
// Params: none.
// Returns: client handle or transient error when no endpoint is healthy.
func (c *Connector) clientSnapshot() (rpcClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	active, err := c.activeLocked()
	if err != nil {
		return nil, err
	}
	return active.client, nil
}

// BlockNumber reads the latest block height from the active endpoint.
// Params: caller context.
// Returns: block number or transient chain error.
func (c *Connector) BlockNumber(ctx context.Context) (uint64, error) {
	client, err := c.clientSnapshot()
	if err != nil {
		return 0, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	number, err := client.BlockNumber(callCtx)
	if err != nil {
		return 0, faults.MarkTransient(fmt.Errorf("block number: %w", err))
	}
	return number, nil
}

// GasPriceGwei reads the suggested gas price converted to gwei.
// Params: caller context.
// Returns: gas price in gwei or transient chain error.
func (c *Connector) GasPriceGwei(ctx context.Context) (float64, error) {
	client, err := c.clientSnapshot()
	if err != nil {
		return 0, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	price, err := client.SuggestGasPrice(callCtx)
	if err != nil {
		return 0, faults.MarkTransient(fmt.Errorf("suggest gas price: %w", err))
	}
	gwei := new(big.Float).Quo(new(big.Float).SetInt(price), big.NewFloat(1e9))
	out, _ := gwei.Float64()
	return out, nil
}

// Balance reads the current balance of one address.
// Params: caller context and account address.
// Returns: balance in wei or transient chain error.
func (c *Connector) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	client, err := c.clientSnapshot()
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	balance, err := client.BalanceAt(callCtx, account, nil)
	if err != nil {
		return nil, faults.MarkTransient(fmt.Errorf("balance of %s: %w", account.Hex(), err))
	}
	return balance, nil
}

// Invoke signs and submits one contract write call.
// Params: caller context, target contract address, and ABI-encoded calldata.
// Returns: transaction hash or signing/submission error.
func (c *Connector) Invoke(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, errors.New("chain signer is not configured")
	}
	client, err := c.clientSnapshot()
	if err != nil {
		return common.Hash{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	nonce, err := client.PendingNonceAt(callCtx, c.signerAddr)
	if err != nil {
		return common.Hash{}, faults.MarkTransient(fmt.Errorf("pending nonce: %w", err))
	}
	gasPrice, err := client.SuggestGasPrice(callCtx)
	if err != nil {
		return common.Hash{}, faults.MarkTransient(fmt.Errorf("suggest gas price: %w", err))
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Gas:      writeGasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := client.SendTransaction(callCtx, signed); err != nil {
		return common.Hash{}, faults.MarkTransient(fmt.Errorf("send transaction: %w", err))
	}
	return signed.Hash(), nil
}

// WaitForConfirmations blocks until the transaction reaches configured depth.
// Params: caller context and transaction hash.
// Returns: nil on confirmation or deadline/transport error.
func (c *Connector) WaitForConfirmations(ctx context.Context, txHash common.Hash) error {
	client, err := c.clientSnapshot()
	if err != nil {
		return err
	}

	// Bounded wait: an unbounded confirmation hang would stall the whole
	// incident pipeline, so the wait budget scales with the call timeout.
	waitCtx, cancel := context.WithTimeout(ctx, c.callTimeout*confirmWaitFactor)
	defer cancel()

	for {
		receipt, receiptErr := client.TransactionReceipt(waitCtx, txHash)
		if receiptErr == nil && receipt != nil && receipt.BlockNumber != nil {
			head, headErr := client.BlockNumber(waitCtx)
			if headErr == nil && head+1 >= receipt.BlockNumber.Uint64()+c.confirmations {
				return nil
			}
		}
		select {
		case <-waitCtx.Done():
			return faults.MarkTransient(fmt.Errorf("confirmation wait for %s: %w", txHash.Hex(), waitCtx.Err()))
		case <-time.After(receiptPollInterval):
		}
	}
}

// Close releases all endpoint clients.
// Params: none.
// Returns: none.
func (c *Connector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dialed := range c.endpoints {
		dialed.client.Close()
	}
}

// MethodCallData builds method-selector calldata for one contract call.
// Params: canonical method signature and optional address arguments.
// Returns: 4-byte selector followed by 32-byte padded arguments.
func MethodCallData(signature string, args ...common.Address) []byte {
	selector := crypto.Keccak256([]byte(signature))[:4]
	data := make([]byte, 0, 4+32*len(args))
	data = append(data, selector...)
	for _, arg := range args {
		data = append(data, common.LeftPadBytes(arg.Bytes(), 32)...)
	}
	return data
}
