// Concrete binding of Client to go-ethereum's ethclient.Client. ethclient
// already satisfies PendingNonceAt/SendTransaction/SuggestGasTipCap/
// SuggestGasPrice/ChainID verbatim; only CallContract (different argument
// shape) and WaitMined (absent from ethclient) need translation.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthClient adapts *ethclient.Client to Client.
type EthClient struct {
	*ethclient.Client
}

// Dial connects to the configured RPC URL.
func Dial(ctx context.Context, rawurl string) (*EthClient, error) {
	c, err := ethclient.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return &EthClient{Client: c}, nil
}

// CallContract performs a static call at the latest block.
func (c *EthClient) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	return c.Client.CallContract(ctx, ethereum.CallMsg{From: msg.From, To: msg.To, Data: msg.Data}, nil)
}

// WaitMined polls for tx's receipt, the same pattern bind.WaitMined gives
// abigen-generated contract bindings.
func (c *EthClient) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, c.Client, tx)
}
