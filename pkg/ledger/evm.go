package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/unikron/relayer/pkg/blockchain"
	"github.com/unikron/relayer/pkg/intent"
	"github.com/unikron/relayer/pkg/logger"
)

// erc20ABI covers the calls the settlement path needs.
const erc20ABI = `[
	{
		"constant": false,
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transferFrom",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	}
]`

// EVMLedger executes settlement transfers as ERC-20 transactions on an
// EVM chain. Protocol identities and token IDs are mapped to chain
// addresses through registries supplied at construction. Transfers from
// the relayer's own account use transfer; transfers from other accounts
// use transferFrom and rely on a prior on-chain approval.
type EVMLedger struct {
	rpcURL        string
	client        *ethclient.Client
	auth          *bind.TransactOpts
	account       common.Address
	gasMultiplier float64

	nonceManager *blockchain.NonceManager
	tokenABI     abi.ABI
	log          logger.Logger

	mu       sync.Mutex
	tokens   map[intent.TokenID]common.Address
	accounts map[intent.PubKey]common.Address
}

// NewEVMLedger creates an EVM-backed ledger for the given RPC endpoint.
// Call Connect before the first Transfer.
func NewEVMLedger(rpcURL string, gasMultiplier float64, log logger.Logger) *EVMLedger {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if gasMultiplier <= 0 {
		gasMultiplier = 1.1
	}
	// The ABI is a compile-time constant, a parse failure is a
	// programming error.
	parsedABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(fmt.Sprintf("invalid ERC20 ABI: %v", err))
	}
	return &EVMLedger{
		rpcURL:        rpcURL,
		gasMultiplier: gasMultiplier,
		nonceManager:  blockchain.NewNonceManager(),
		tokenABI:      parsedABI,
		log:           log,
		tokens:        make(map[intent.TokenID]common.Address),
		accounts:      make(map[intent.PubKey]common.Address),
	}
}

// Connect dials the RPC endpoint and sets up the transaction signer.
func (l *EVMLedger) Connect(ctx context.Context, privateKeyHex string) error {
	client, err := ethclient.Dial(l.rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to client: %v", err)
	}
	l.client = client

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return fmt.Errorf("failed to parse private key: %v", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain ID: %v", err)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return fmt.Errorf("failed to create transactor: %v", err)
	}
	l.auth = auth
	l.account = crypto.PubkeyToAddress(privateKey.PublicKey)

	l.log.InfoWithPhase(logger.Ledger, "connected to chain %s as %s", chainID.String(), l.account.Hex())
	return nil
}

// RegisterToken maps a protocol token ID to its ERC-20 contract address.
func (l *EVMLedger) RegisterToken(id intent.TokenID, addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[id] = addr
}

// RegisterAccount maps a protocol identity to its chain address.
func (l *EVMLedger) RegisterAccount(pk intent.PubKey, addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[pk] = addr
}

// Transfer submits an ERC-20 transfer and waits for it to be mined.
func (l *EVMLedger) Transfer(ctx context.Context, token intent.TokenID, from, to intent.PubKey, amount uint64) error {
	if l.client == nil || l.auth == nil {
		return fmt.Errorf("ledger not connected")
	}

	l.mu.Lock()
	tokenAddr, tokenOK := l.tokens[token]
	fromAddr, fromOK := l.accounts[from]
	toAddr, toOK := l.accounts[to]
	l.mu.Unlock()

	if !tokenOK {
		return fmt.Errorf("%w: unmapped token", ErrUnknownAccount)
	}
	if !fromOK || !toOK {
		return fmt.Errorf("%w: unmapped party", ErrUnknownAccount)
	}

	erc20Contract := bind.NewBoundContract(tokenAddr, l.tokenABI, l.client, l.client, l.client)

	if err := l.updateGasPrice(ctx); err != nil {
		l.log.ErrorWithPhase(logger.Ledger, "failed to update gas price: %v", err)
		// Continue with the previous gas price
	}

	nonce, err := l.nonceManager.GetNonce(ctx, l.client, l.account)
	if err != nil {
		return fmt.Errorf("failed to allocate nonce: %v", err)
	}

	txOpts := *l.auth
	txOpts.Nonce = big.NewInt(int64(nonce))
	txOpts.Context = ctx

	value := new(big.Int).SetUint64(amount)

	var tx *types.Transaction
	if fromAddr == l.account {
		tx, err = erc20Contract.Transact(&txOpts, "transfer", toAddr, value)
	} else {
		tx, err = erc20Contract.Transact(&txOpts, "transferFrom", fromAddr, toAddr, value)
	}
	if err != nil {
		l.nonceManager.MarkTransactionFailed(nonce)
		return fmt.Errorf("failed to submit transfer: %v", err)
	}

	txHash := tx.Hash()
	l.nonceManager.TrackTransaction(txHash, nonce)
	l.log.InfoWithPhase(logger.Ledger, "submitted transfer %s: token=%s amount=%d", txHash.Hex(), tokenAddr.Hex(), amount)

	mined, err := l.waitMined(ctx, txHash)
	if err != nil {
		l.nonceManager.MarkTransactionFailed(nonce)
		return fmt.Errorf("failed waiting for transfer %s: %v", txHash.Hex(), err)
	}
	if !mined {
		l.nonceManager.MarkTransactionFailed(nonce)
		return fmt.Errorf("transfer %s reverted", txHash.Hex())
	}

	l.nonceManager.MarkTransactionConfirmed(nonce)
	return nil
}

// updateGasPrice refreshes the signer's gas price from the node with the
// configured buffer applied.
func (l *EVMLedger) updateGasPrice(ctx context.Context) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := l.client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return fmt.Errorf("failed to get gas price: %v", err)
	}

	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(l.gasMultiplier),
	)
	final := new(big.Int)
	multiplied.Int(final)

	l.auth.GasPrice = final
	return nil
}

// waitMined polls for the transaction receipt. Returns false for a
// mined-but-reverted transaction.
func (l *EVMLedger) waitMined(ctx context.Context, txHash common.Hash) (bool, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := l.client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt.Status == types.ReceiptStatusSuccessful, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
