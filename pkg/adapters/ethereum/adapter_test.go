package ethereum

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/DeBrosOfficial/hyperdrive/pkg/errors"
	"github.com/DeBrosOfficial/hyperdrive/pkg/provider"
	goethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

var _ provider.Adapter = (*Adapter)(nil)

// rpcError mimics a JSON-RPC error returned by the node.
type rpcError struct {
	code int
	msg  string
}

func (e rpcError) Error() string  { return e.msg }
func (e rpcError) ErrorCode() int { return e.code }

// fakeChain is a minimal node: a mempool plus mined receipts.
type fakeChain struct {
	mu       sync.Mutex
	pool     map[common.Hash]bool
	receipts map[common.Hash]*types.Receipt
	sendErr  error
	down     error
	closed   bool
}

func newFakeChain() *fakeChain {
	return &fakeChain{pool: map[common.Hash]bool{}, receipts: map[common.Hash]*types.Receipt{}}
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down != nil {
		return f.down
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	if f.pool[tx.Hash()] {
		return rpcError{code: -32000, msg: "already known"}
	}
	f.pool[tx.Hash()] = true
	return nil
}

func (f *fakeChain) TransactionReceipt(_ context.Context, h common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down != nil {
		return nil, f.down
	}
	r, ok := f.receipts[h]
	if !ok {
		return nil, goethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	return &types.Header{Number: n, Time: 1_700_000_000}, nil
}

func (f *fakeChain) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return 42, f.down
}

func (f *fakeChain) Close() { f.closed = true }

func (f *fakeChain) mine(h common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[h] = &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(7)}
}

func newAdapter(t *testing.T) (*Adapter, *fakeChain) {
	t.Helper()
	fc := newFakeChain()
	a := New(Config{ID: "eth", RPCURL: "http://localhost:8545"}, zap.NewNop())
	a.dial = func(context.Context, string) (chain, error) { return fc, nil }
	if err := a.Activate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return a, fc
}

func signedTx(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	to := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tx := types.NewTransaction(nonce, to, big.NewInt(1), 21000, big.NewInt(1_000_000_000), nil)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(big.NewInt(1337)), key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func rawTx(t *testing.T, tx *types.Transaction) []byte {
	t.Helper()
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestSendTransaction(t *testing.T) {
	ctx := context.Background()
	a, _ := newAdapter(t)
	tx := signedTx(t, 0)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"binary", rawTx(t, tx)},
		{"hex replay", []byte(hexutil.Encode(rawTx(t, tx)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := a.Execute(ctx, provider.Call{Kind: provider.KindSendTransaction, TargetID: "transfer-1", Payload: tt.payload, IdempotencyKey: "k1"})
			if err != nil {
				t.Fatalf("send: %v", err)
			}
			if string(v.Data) != tx.Hash().Hex() {
				t.Errorf("returned %s, want %s", v.Data, tx.Hash().Hex())
			}
		})
	}
}

func TestSendRejectsGarbage(t *testing.T) {
	a, _ := newAdapter(t)
	_, err := a.Execute(context.Background(), provider.Call{Kind: provider.KindSendTransaction, TargetID: "t", Payload: []byte("not a tx")})
	if !errors.IsRejected(err) {
		t.Errorf("expected rejection, got %v", err)
	}
}

func TestSendErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		mined    bool
		rejected bool
		retry    bool
	}{
		{"insufficient funds", rpcError{-32000, "insufficient funds for gas * price + value"}, false, true, false},
		{"nonce too low unmined", rpcError{-32000, "nonce too low"}, false, true, false},
		{"nonce too low mined replay", rpcError{-32000, "nonce too low"}, true, false, false},
		{"transport", stderrors.New("connection refused"), false, false, true},
		{"deadline", context.DeadlineExceeded, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, fc := newAdapter(t)
			tx := signedTx(t, 3)
			fc.sendErr = tt.err
			if tt.mined {
				fc.mine(tx.Hash())
			}
			_, err := a.Execute(context.Background(), provider.Call{Kind: provider.KindSendTransaction, TargetID: "t", Payload: rawTx(t, tx)})
			if tt.mined {
				if err != nil {
					t.Fatalf("mined replay should succeed, got %v", err)
				}
				return
			}
			if errors.IsRejected(err) != tt.rejected {
				t.Errorf("rejected = %v, want %v (%v)", errors.IsRejected(err), tt.rejected, err)
			}
			if errors.ShouldRetry(err) != tt.retry {
				t.Errorf("retry = %v, want %v (%v)", errors.ShouldRetry(err), tt.retry, err)
			}
		})
	}
}

func TestLoadReceipt(t *testing.T) {
	ctx := context.Background()
	a, fc := newAdapter(t)
	tx := signedTx(t, 1)

	_, err := a.Execute(ctx, provider.Call{Kind: provider.KindLoad, TargetID: tx.Hash().Hex()})
	if !errors.IsNotFound(err) {
		t.Fatalf("expected not found before mining, got %v", err)
	}

	fc.mine(tx.Hash())
	v, err := a.Execute(ctx, provider.Call{Kind: provider.KindLoad, TargetID: tx.Hash().Hex()})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var receipt map[string]any
	if err := json.Unmarshal(v.Data, &receipt); err != nil {
		t.Fatalf("receipt is not JSON: %v", err)
	}
	if receipt["status"] != "0x1" {
		t.Errorf("status = %v", receipt["status"])
	}
	if !v.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("timestamp = %v", v.Timestamp)
	}

	if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindLoad, TargetID: "not-a-hash"}); !errors.IsRejected(err) {
		t.Errorf("expected rejection for malformed hash, got %v", err)
	}
}

func TestProbeAndLifecycle(t *testing.T) {
	ctx := context.Background()
	a, fc := newAdapter(t)
	if !a.Probe(ctx) {
		t.Error("expected healthy probe")
	}
	fc.down = stderrors.New("dial tcp: connection refused")
	if a.Probe(ctx) {
		t.Error("expected failed probe")
	}
	if _, err := a.Execute(ctx, provider.Call{Kind: provider.KindSave, TargetID: "x"}); !errors.IsRejected(err) {
		t.Errorf("expected rejection for save, got %v", err)
	}
	a.Deactivate(ctx)
	if !fc.closed {
		t.Error("client not closed")
	}
	if a.Probe(ctx) {
		t.Error("inactive adapter should not probe healthy")
	}
}
