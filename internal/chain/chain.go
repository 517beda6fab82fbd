// Package chain declares the narrow interface the keeper needs from a
// blockchain RPC client. A concrete client (go-ethereum's ethclient plus a
// signer) is an external collaborator; this package names only the
// methods the rest of the keeper actually calls, narrowly scoped rather
// than re-exporting the full RPC client surface.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Client is everything the Nonce Pipeline and its callers need from the
// node: nonce bookkeeping, transaction submission, and confirmation.
type Client interface {
	// PendingNonceAt returns the account's next nonce as seen by the
	// mempool, used to seed and resynchronize the Nonce Pipeline.
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)

	// SendTransaction broadcasts a signed transaction.
	SendTransaction(ctx context.Context, tx *types.Transaction) error

	// WaitMined blocks until tx has one confirmation or ctx is done,
	// whichever comes first; it applies no timeout of its own, so the
	// bound is whatever deadline the caller's ctx carries.
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)

	// SuggestGasTipCap and SuggestGasPrice feed EIP-1559 fee construction.
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// CallContract performs a static (non-state-changing) call, used for
	// the settlement engine's pre-flight simulation and for take/kick
	// eligibility probes.
	CallContract(ctx context.Context, msg CallMsg) ([]byte, error)

	// ChainID returns the network's chain identifier for tx signing.
	ChainID(ctx context.Context) (*big.Int, error)
}

// CallMsg mirrors ethereum.CallMsg's fields the keeper needs, so this
// package does not have to re-export the go-ethereum type directly in
// exported signatures used outside internal/chain.
type CallMsg struct {
	From common.Address
	To   *common.Address
	Data []byte
}

// Signer signs and optionally submits transactions on behalf of the bot's
// single operating account. Implementations wrap a go-ethereum keystore
// account or an in-memory private key.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}
