// Package payout forwards matched payments to the title contracts on a
// Quorum node.
package payout

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Contracts only handle integers: amounts are sent in thousandths.
const amountScale = 1000

// DefaultGas is the block gas limit of the private network.
const DefaultGas = 0x2fefd800

const payABI = `[
	{
		"constant": false,
		"inputs": [
			{"name": "buyerInfo", "type": "string"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "pay",
		"outputs": [],
		"type": "function"
	}
]`

var (
	ErrNegativeAmount  = errors.New("payout amount must not be negative")
	ErrInvalidContract = errors.New("invalid contract address")
)

// Target is a title line of an invoice resolved to its contract and the
// private-transaction recipients of its stakeholders.
type Target struct {
	TitleID    string          `json:"title_id"`
	Contract   string          `json:"contract"`
	Amount     decimal.Decimal `json:"amount"`
	PrivateFor []string        `json:"private_for"`
}

// Order is one pay() call.
type Order struct {
	Target
	BuyerInfo string
}

// BuyerInfo is the buyer reference passed to the contract.
func BuyerInfo(fromParty, reference string) string {
	return fromParty + "-" + reference
}

// Payer sends payout transactions and returns their hash.
type Payer interface {
	Pay(ctx context.Context, order Order) (string, error)
}

type Config struct {
	URL                string
	User               string
	Password           string
	From               string
	OperatorPrivateFor string
	Gas                uint64
}

// Client calls pay(string,uint256) through eth_sendTransaction, which the
// node signs with its own unlocked account.
type Client struct {
	rpc    *rpc.Client
	abi    abi.ABI
	from   common.Address
	cfg    Config
	logger *zap.Logger
}

// sendTxArgs is eth_sendTransaction's argument extended with Quorum's
// privateFor.
type sendTxArgs struct {
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	Gas        hexutil.Uint64 `json:"gas"`
	Data       hexutil.Bytes  `json:"data"`
	PrivateFor []string       `json:"privateFor,omitempty"`
}

// Dial connects to the node, using basic auth when a user is configured.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	var opts []rpc.ClientOption
	if cfg.User != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.User + ":" + cfg.Password))
		opts = append(opts, rpc.WithHeader("Authorization", "Basic "+creds))
	}
	c, err := rpc.DialOptions(ctx, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to quorum node: %w", err)
	}
	return NewClient(c, cfg, logger)
}

func NewClient(c *rpc.Client, cfg Config, logger *zap.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(payABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	if !common.IsHexAddress(cfg.From) {
		return nil, fmt.Errorf("invalid sender address %q", cfg.From)
	}
	if cfg.Gas == 0 {
		cfg.Gas = DefaultGas
	}

	logger.Info("Quorum payout client initialized",
		zap.String("rpc", cfg.URL),
		zap.String("from", cfg.From))

	return &Client{rpc: c, abi: parsed, from: common.HexToAddress(cfg.From), cfg: cfg, logger: logger}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// Pay sends the order privately to the operator node and the title's
// stakeholders.
func (c *Client) Pay(ctx context.Context, o Order) (string, error) {
	if !common.IsHexAddress(o.Contract) {
		return "", fmt.Errorf("%w: %q (title %s)", ErrInvalidContract, o.Contract, o.TitleID)
	}
	amount, err := ScaleAmount(o.Amount)
	if err != nil {
		return "", err
	}
	data, err := c.abi.Pack("pay", o.BuyerInfo, amount)
	if err != nil {
		return "", fmt.Errorf("failed to pack pay: %w", err)
	}

	privateFor := make([]string, 0, len(o.PrivateFor)+1)
	if c.cfg.OperatorPrivateFor != "" {
		privateFor = append(privateFor, c.cfg.OperatorPrivateFor)
	}
	privateFor = append(privateFor, o.PrivateFor...)

	tx := sendTxArgs{
		From:       c.from,
		To:         common.HexToAddress(o.Contract),
		Gas:        hexutil.Uint64(c.cfg.Gas),
		Data:       data,
		PrivateFor: privateFor,
	}

	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendTransaction", tx); err != nil {
		return "", fmt.Errorf("eth_sendTransaction to %s: %w", o.Contract, err)
	}

	c.logger.Info("Payout transaction sent",
		zap.String("contract", o.Contract),
		zap.String("title_id", o.TitleID),
		zap.String("buyer", o.BuyerInfo),
		zap.String("amount", amount.String()),
		zap.String("tx_hash", hash.Hex()))

	return hash.Hex(), nil
}

// ScaleAmount converts a price to contract units: floor(price * 1000).
func ScaleAmount(price decimal.Decimal) (*big.Int, error) {
	if price.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, price)
	}
	return price.Mul(decimal.NewFromInt(amountScale)).Floor().BigInt(), nil
}

// LogPayer only logs orders. It is used when no node is configured, and
// returns an empty hash.
type LogPayer struct {
	Logger *zap.Logger
}

func (p LogPayer) Pay(_ context.Context, o Order) (string, error) {
	if _, err := ScaleAmount(o.Amount); err != nil {
		return "", err
	}
	p.Logger.Warn("Payout disabled, order not sent",
		zap.String("contract", o.Contract),
		zap.String("title_id", o.TitleID),
		zap.String("buyer", o.BuyerInfo),
		zap.String("amount", o.Amount.String()))
	return "", nil
}
