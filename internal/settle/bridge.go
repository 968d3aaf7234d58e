// Package settle submits finished matches to the Gambit token contract with a
// server-held operator key, and serves player-data reads from the same
// contract.
package settle

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/gambit-chess/gambit-server/internal/match"
	"github.com/gambit-chess/gambit-server/internal/obslog"
)

const contractABI = `[
  {"type":"function","name":"registerPlayer","stateMutability":"payable",
   "inputs":[{"name":"username","type":"string"}],"outputs":[]},
  {"type":"function","name":"getFullPlayerData","stateMutability":"view",
   "inputs":[{"name":"player","type":"address"}],
   "outputs":[{"name":"username","type":"string"},{"name":"addr","type":"address"},
              {"name":"rating","type":"uint256"},{"name":"matchIds","type":"string[]"}]},
  {"type":"function","name":"settleMatch","stateMutability":"nonpayable",
   "inputs":[{"name":"matchId","type":"string"},{"name":"moveHistory","type":"string"},
             {"name":"ranked","type":"bool"},{"name":"player1","type":"address"},
             {"name":"player2","type":"address"},{"name":"startSig1","type":"bytes"},
             {"name":"startSig2","type":"bytes"},{"name":"stake","type":"uint256"},
             {"name":"winner","type":"address"}],"outputs":[]}
]`

// PlayerData mirrors the contract's getFullPlayerData return tuple.
type PlayerData struct {
	Username string
	Address  string
	Rating   int64
	MatchIDs []string
}

// Bridge is a bound Gambit contract plus the operator transactor.
type Bridge struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	key      *ecdsa.PrivateKey
	chainID  *big.Int
	address  common.Address
}

func New(ctx context.Context, rpcURL, contractAddr, operatorKeyHex string, chainID int64) (*Bridge, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(operatorKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("operator key: %w", err)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	addr := common.HexToAddress(contractAddr)
	return &Bridge{
		client:   client,
		contract: bind.NewBoundContract(addr, parsed, client, client, client),
		key:      key,
		chainID:  big.NewInt(chainID),
		address:  addr,
	}, nil
}

func (b *Bridge) Close() {
	if b != nil && b.client != nil {
		b.client.Close()
	}
}

// Settle submits settleMatch and waits for the transaction hash, not the
// receipt; the chain is the source of truth from there.
func (b *Bridge) Settle(ctx context.Context, req *match.SettleRequest) (string, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(b.key, b.chainID)
	if err != nil {
		return "", fmt.Errorf("transactor: %w", err)
	}
	opts.Context = ctx

	args, err := packSettleArgs(req)
	if err != nil {
		return "", err
	}
	tx, err := b.contract.Transact(opts, "settleMatch", args...)
	if err != nil {
		return "", fmt.Errorf("settleMatch: %w", err)
	}
	obslog.L().Info("settle_submitted",
		zap.String("match_id", req.MatchID),
		zap.String("tx", tx.Hash().Hex()),
		zap.Int64("stake", req.Stake),
	)
	return tx.Hash().Hex(), nil
}

// packSettleArgs converts a SettleRequest into contract call arguments.
// Factored out so the encoding is testable without a live client.
func packSettleArgs(req *match.SettleRequest) ([]any, error) {
	if req == nil {
		return nil, fmt.Errorf("nil settle request")
	}
	sig1, err := decodeSig(req.StartSig1)
	if err != nil {
		return nil, fmt.Errorf("start sig 1: %w", err)
	}
	sig2, err := decodeSig(req.StartSig2)
	if err != nil {
		return nil, fmt.Errorf("start sig 2: %w", err)
	}
	winner := common.Address{}
	if strings.TrimSpace(req.Winner) != "" {
		winner = common.HexToAddress(req.Winner)
	}
	return []any{
		req.MatchID,
		req.MoveHistory,
		req.Ranked,
		common.HexToAddress(req.Player1),
		common.HexToAddress(req.Player2),
		sig1,
		sig2,
		big.NewInt(req.Stake),
		winner,
	}, nil
}

func decodeSig(sigHex string) ([]byte, error) {
	if strings.TrimSpace(sigHex) == "" {
		return []byte{}, nil
	}
	return hexutil.Decode(sigHex)
}

// PlayerData reads the registered profile for a wallet.
func (b *Bridge) PlayerData(ctx context.Context, hexAddress string) (*PlayerData, error) {
	var out []any
	err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, "getFullPlayerData", common.HexToAddress(hexAddress))
	if err != nil {
		return nil, fmt.Errorf("getFullPlayerData: %w", err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("getFullPlayerData: unexpected return arity %d", len(out))
	}
	username, _ := out[0].(string)
	addr, _ := out[1].(common.Address)
	rating, _ := out[2].(*big.Int)
	matchIDs, _ := out[3].([]string)
	pd := &PlayerData{
		Username: username,
		Address:  addr.Hex(),
		MatchIDs: matchIDs,
	}
	if rating != nil {
		pd.Rating = rating.Int64()
	}
	return pd, nil
}
