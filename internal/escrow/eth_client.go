package escrow

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
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
)

// EthClient drives the deployed Lendex contract.
type EthClient struct {
	client    *ethclient.Client
	lendex    *bind.BoundContract
	erc721    abi.ABI
	address   common.Address
	chainID   *big.Int
	signer    common.Address
	transacts *bind.TransactOpts
	logger    *slog.Logger
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
	LendexAddress string
	Logger        *slog.Logger
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.LendexAddress) {
		return nil, fmt.Errorf("lendex contract address is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for escrow transactions")
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	lendexABI, err := abi.JSON(strings.NewReader(LendexABI))
	if err != nil {
		return nil, fmt.Errorf("parse lendex abi: %w", err)
	}
	erc721ABI, err := abi.JSON(strings.NewReader(ERC721TransferABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc721 abi: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	address := common.HexToAddress(cfg.LendexAddress)
	return &EthClient{
		client:    cli,
		lendex:    bind.NewBoundContract(address, lendexABI, cli, cli, cli),
		erc721:    erc721ABI,
		address:   address,
		chainID:   chainID,
		signer:    crypto.PubkeyToAddress(pk.PublicKey),
		transacts: txOpts,
		logger:    logger,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Signer is the address every transaction is sent from.
func (c *EthClient) Signer() common.Address {
	return c.signer
}

// OnCustodyReceived transfers the token into the escrow with the lock payload,
// which makes the contract run its custody hook.
func (c *EthClient) OnCustodyReceived(ctx context.Context, depositor common.Address, key Key, payload []byte) error {
	if err := c.checkCaller(depositor); err != nil {
		return err
	}
	if _, err := DecodeLockPayload(payload); err != nil {
		return err
	}
	collection := bind.NewBoundContract(key.Collection, c.erc721, c.client, c.client, c.client)
	return c.send(ctx, collection, "safeTransferFrom", depositor, c.address, key.tokenID(), payload)
}

func (c *EthClient) BorrowToken(ctx context.Context, caller common.Address, key Key, lender common.Address) error {
	if err := c.checkCaller(caller); err != nil {
		return err
	}
	if lender == (common.Address{}) {
		return ErrInvalidLender
	}
	return c.send(ctx, c.lendex, "borrowToken", key.Collection, key.tokenID(), lender)
}

func (c *EthClient) PayTokenDebt(ctx context.Context, caller common.Address, key Key) error {
	if err := c.checkCaller(caller); err != nil {
		return err
	}
	return c.send(ctx, c.lendex, "payTokenDebt", key.Collection, key.tokenID())
}

// ClaimToken reads the position first so it can report who the contract will
// release the token to.
func (c *EthClient) ClaimToken(ctx context.Context, caller common.Address, key Key) (common.Address, error) {
	if err := c.checkCaller(caller); err != nil {
		return common.Address{}, err
	}
	owner, err := c.GetTokenOwner(ctx, key)
	if err != nil {
		return common.Address{}, err
	}
	pos, status, err := c.GetToken(ctx, owner, key)
	if err != nil {
		return common.Address{}, err
	}
	recipient := owner
	if status == StatusWaitingPayment {
		recipient = pos.Lender
	}
	if err := c.send(ctx, c.lendex, "claimToken", key.Collection, key.tokenID()); err != nil {
		return common.Address{}, err
	}
	return recipient, nil
}

type contractPosition struct {
	Lender       common.Address
	Deadline     *big.Int
	Amount       *big.Int
	Decimals     *big.Int
	CurrencyCode string
}

func (c *EthClient) GetToken(ctx context.Context, caller common.Address, key Key) (Position, Status, error) {
	var out []interface{}
	if err := c.lendex.Call(&bind.CallOpts{Context: ctx}, &out, "getToken", caller, key.Collection, key.tokenID()); err != nil {
		return Position{}, StatusUnknown, ErrChain.With(fmt.Errorf("getToken: %w", err))
	}
	if len(out) != 2 {
		return Position{}, StatusUnknown, ErrChain.Withf("getToken returned %d values", len(out))
	}
	info := *abi.ConvertType(out[0], new(contractPosition)).(*contractPosition)
	status := *abi.ConvertType(out[1], new(uint8)).(*uint8)

	return Position{
		Lender:       info.Lender,
		Deadline:     int64OrZero(info.Deadline),
		Amount:       int64OrZero(info.Amount),
		Decimals:     int64OrZero(info.Decimals),
		CurrencyCode: info.CurrencyCode,
	}, Status(status), nil
}

func (c *EthClient) GetTokenOwner(ctx context.Context, key Key) (common.Address, error) {
	var out []interface{}
	if err := c.lendex.Call(&bind.CallOpts{Context: ctx}, &out, "getTokenOwner", key.Collection, key.tokenID()); err != nil {
		return common.Address{}, ErrChain.With(fmt.Errorf("getTokenOwner: %w", err))
	}
	if len(out) != 1 {
		return common.Address{}, ErrChain.Withf("getTokenOwner returned %d values", len(out))
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}

func (c *EthClient) checkCaller(caller common.Address) error {
	if caller != c.signer {
		return ErrSignerMismatch.Withf("caller %s, signer %s", caller.Hex(), c.signer.Hex())
	}
	return nil
}

// send submits one transaction and waits for it to be mined. A reverted
// receipt is an error; the contract has already rejected the transition.
func (c *EthClient) send(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) error {
	opts := *c.transacts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, method, args...)
	if err != nil {
		return ErrChain.With(fmt.Errorf("%s tx: %w", method, err))
	}
	receipt, err := WaitForReceipt(ctx, c.client, tx)
	if err != nil {
		return ErrChain.With(fmt.Errorf("%s receipt: %w", method, err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ErrReverted.Withf("%s tx %s", method, tx.Hash().Hex())
	}
	c.logger.Info("evm transaction mined", "method", method, "tx", tx.Hash().Hex(), "block", receipt.BlockNumber)
	return nil
}

func int64OrZero(v *big.Int) int64 {
	if v == nil || !v.IsInt64() {
		return 0
	}
	return v.Int64()
}

// WaitForReceipt polls until the transaction is mined or context cancelled.
func WaitForReceipt(ctx context.Context, client *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
