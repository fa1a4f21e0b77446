package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// EthClient reads chain state and submits ERC-20 payouts from the admin wallet.
type EthClient struct {
	client       *ethclient.Client
	erc20        abi.ABI
	from         common.Address
	chainID      *big.Int
	transacts    *bind.TransactOpts
	callTimeout  time.Duration
	pollInterval time.Duration
	retry        RetryPolicy
	logger       *zap.Logger
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	CallTimeout   time.Duration
	PollInterval  time.Duration
	Retry         RetryPolicy
	Logger        *zap.Logger
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for payouts")
	}

	pk, err := ParsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	// The dial error can echo the URL, which may embed a provider API key.
	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errors.New("dial rpc: connection failed")
	}

	parsedABI, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	c := &EthClient{
		client:       cli,
		erc20:        parsedABI,
		from:         crypto.PubkeyToAddress(pk.PublicKey),
		callTimeout:  callTimeout,
		pollInterval: pollInterval,
		retry:        cfg.Retry,
		logger:       logger,
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, errors.New("fetch chain id: rpc unavailable")
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil // pending nonce from the node

	c.chainID = chainID
	c.transacts = txOpts
	return c, nil
}

// ParsePrivateKey accepts a 64 hex character key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		// never wrap err: it can quote the key material
		return nil, errors.New("parse private key: invalid key")
	}
	return key, nil
}

// From is the admin wallet that signs payouts.
func (c *EthClient) From() common.Address {
	return c.from
}

func (c *EthClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *EthClient) ChainID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return new(big.Int).Set(c.chainID), nil
	}
	var id *big.Int
	err := withRetry(ctx, c.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		var err error
		id, err = c.client.ChainID(callCtx)
		return err
	})
	return id, err
}

func (c *EthClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	var (
		tx      *types.Transaction
		pending bool
	)
	err := withRetry(ctx, c.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		var err error
		tx, pending, err = c.client.TransactionByHash(callCtx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return tx, pending, nil
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func (c *EthClient) WaitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		receipt, err := c.client.TransactionReceipt(callCtx, hash)
		cancel()
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !isRetryable(err) {
				return nil, fmt.Errorf("fetch receipt: %w", err)
			}
			c.logger.Debug("receipt poll failed", zap.String("tx", hash.Hex()), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *EthClient) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := c.callERC20(ctx, token, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", values[0])
	}
	return decimals, nil
}

func (c *EthClient) TokenBalance(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	values, err := c.callERC20(ctx, token, "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("balanceOf: unexpected type %T", values[0])
	}
	return balance, nil
}

func (c *EthClient) callERC20(ctx context.Context, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &token, Data: data}

	var resp []byte
	err = withRetry(ctx, c.retry, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
		var err error
		resp, err = c.client.CallContract(callCtx, msg, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := c.erc20.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

// TransferToken is submitted exactly once; a failure here leaves the outcome
// unknown to the caller and must not be retried blindly.
func (c *EthClient) TransferToken(ctx context.Context, token, to common.Address, amount *big.Int) (common.Hash, error) {
	if c.transacts == nil {
		return common.Hash{}, fmt.Errorf("client is read-only")
	}
	if amount == nil || amount.Sign() <= 0 {
		return common.Hash{}, fmt.Errorf("invalid transfer amount")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	opts := *c.transacts
	opts.Context = callCtx

	bound := bind.NewBoundContract(token, c.erc20, c.client, c.client, c.client)
	tx, err := bound.Transact(&opts, "transfer", to, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("transfer tx: %w", err)
	}
	c.logger.Info("payout submitted",
		zap.String("tx", tx.Hash().Hex()),
		zap.String("token", token.Hex()),
		zap.String("to", to.Hex()),
		zap.Uint64("nonce", tx.Nonce()),
	)
	return tx.Hash(), nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}
