// Package ethereum submits signed transactions to an Ethereum JSON-RPC
// endpoint and reads their receipts back.
//
// SendTransaction takes a raw signed transaction (binary, or 0x-prefixed
// hex) as payload and answers with the transaction hash. Load takes a
// transaction hash as target and answers with the receipt as JSON, stamped
// with the block time.
package ethereum

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// chain is the subset of ethclient.Client the adapter uses.
type chain interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Config holds configuration for the Ethereum adapter
type Config struct {
	ID string
	// RPCURL is an http(s):// or ws(s):// JSON-RPC endpoint
	RPCURL string
}

// Adapter implements provider.Adapter on an Ethereum node.
type Adapter struct {
	cfg    Config
	logger *zap.Logger
	dial   func(ctx context.Context, url string) (chain, error)

	mu     sync.RWMutex
	client chain
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		cfg:    cfg,
		logger: logger.With(zap.String("provider", cfg.ID)),
		dial: func(ctx context.Context, url string) (chain, error) {
			c, err := ethclient.DialContext(ctx, url)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
	}
}

func (a *Adapter) Activate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		return nil
	}
	c, err := a.dial(ctx, a.cfg.RPCURL)
	if err != nil {
		return errors.FromBackend("ethereum", fmt.Errorf("dial %s: %w", a.cfg.RPCURL, err))
	}
	a.client = c
	a.logger.Info("Ethereum provider activated", zap.String("rpc_url", a.cfg.RPCURL))
	return nil
}

func (a *Adapter) Deactivate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
	return nil
}

func (a *Adapter) chain() (chain, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.client == nil {
		return nil, errors.NewServiceError("ethereum", fmt.Sprintf("provider %s is not active", a.cfg.ID), 0, nil)
	}
	return a.client, nil
}

// Probe asks for the latest block number.
func (a *Adapter) Probe(ctx context.Context) bool {
	c, err := a.chain()
	if err != nil {
		return false
	}
	if _, err := c.BlockNumber(ctx); err != nil {
		a.logger.Debug("Probe failed", zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) Execute(ctx context.Context, call provider.Call) (provider.Value, error) {
	c, err := a.chain()
	if err != nil {
		return provider.Value{}, err
	}

	switch call.Kind {
	case provider.KindSendTransaction:
		return a.send(ctx, c, call)
	case provider.KindLoad:
		return a.receipt(ctx, c, call.TargetID)
	default:
		return provider.Value{}, errors.NewRejectedError(a.cfg.ID, fmt.Sprintf("unsupported operation %s", call.Kind), nil)
	}
}

// DecodeTransaction parses a raw signed transaction, binary or 0x hex.
func DecodeTransaction(payload []byte) (*types.Transaction, error) {
	raw := payload
	if trimmed := bytes.TrimSpace(payload); bytes.HasPrefix(trimmed, []byte("0x")) {
		decoded, err := hexutil.Decode(string(trimmed))
		if err != nil {
			return nil, err
		}
		raw = decoded
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return tx, nil
}

func (a *Adapter) send(ctx context.Context, c chain, call provider.Call) (provider.Value, error) {
	tx, err := DecodeTransaction(call.Payload)
	if err != nil {
		return provider.Value{}, errors.NewRejectedError(a.cfg.ID, "payload is not a signed transaction", err)
	}
	hash := tx.Hash()
	answer := provider.Value{Data: []byte(hash.Hex())}

	err = c.SendTransaction(ctx, tx)
	switch {
	case err == nil:
		a.logger.Info("Transaction submitted", zap.String("tx", hash.Hex()), zap.String("key", call.IdempotencyKey))
		return answer, nil
	case isAlreadyKnown(err):
		// A replay of a transaction the node already holds
		return answer, nil
	case isNonceTooLow(err):
		// Either a replay that was already mined or a real nonce clash
		if _, rerr := c.TransactionReceipt(ctx, hash); rerr == nil {
			return answer, nil
		}
		return provider.Value{}, errors.NewRejectedError(a.cfg.ID, "nonce too low", err)
	}

	var rpcErr rpc.Error
	if stderrors.As(err, &rpcErr) {
		// The node evaluated and refused the transaction
		return provider.Value{}, errors.NewRejectedError(a.cfg.ID, rpcErr.Error(), err)
	}
	return provider.Value{}, errors.FromBackend("ethereum", err)
}

func (a *Adapter) receipt(ctx context.Context, c chain, target string) (provider.Value, error) {
	if !isHash(target) {
		return provider.Value{}, errors.NewRejectedError(a.cfg.ID, fmt.Sprintf("%q is not a transaction hash", target), nil)
	}

	r, err := c.TransactionReceipt(ctx, common.HexToHash(target))
	if stderrors.Is(err, goethereum.NotFound) {
		return provider.Value{}, errors.NewNotFoundError("transaction", target)
	}
	if err != nil {
		return provider.Value{}, errors.FromBackend("ethereum", err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return provider.Value{}, errors.NewInternalError("encode receipt", err)
	}
	v := provider.Value{Data: data}

	if r.BlockNumber != nil {
		if h, err := c.HeaderByNumber(ctx, r.BlockNumber); err == nil {
			v.Timestamp = time.Unix(int64(h.Time), 0).UTC()
		}
	}
	return v, nil
}

func isHash(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 2*common.HashLength {
		return false
	}
	_, err := hexutil.Decode("0x" + s)
	return err == nil
}

func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}
