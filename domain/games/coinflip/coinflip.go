// Package coinflip is a heads or tails game played by sending a transfer to the house account
// with the memo {"hiveContract":{"name":"coinflip","action":"flip","payload":{"guess":"heads","seed":"..."}}}.
package coinflip

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/domain/contract"
	"github.com/qubic/hive-streamer/domain/fairness"
	"github.com/qubic/hive-streamer/domain/games"
	"github.com/qubic/hive-streamer/entities"
	"go.uber.org/zap"
)

const Name = "coinflip"

const (
	FlipAction   = "flip"
	RefundAction = "refund"
)

const (
	Heads = "heads"
	Tails = "tails"
)

const (
	MemoInvalidCurrency = "[Refund] You sent an invalid currency."
	MemoTooMuch         = "[Refund] You sent too much."
	MemoInvalidGuess    = "[Refund] Invalid guess. Please only send heads or tails."
)

var validGuesses = []string{Heads, Tails}

type Config struct {
	Account         string
	ValidCurrencies []string
	// MaxAmount is the largest accepted stake in whole tokens.
	MaxAmount int64
	// WinFee is deducted from the doubled stake, in thousandths.
	WinFee int64
	// LossConsolation is sent back on a lost flip, in thousandths.
	LossConsolation int64
}

func DefaultConfig() Config {
	return Config{
		Account:         "beggars",
		ValidCurrencies: []string{"HIVE"},
		MaxAmount:       20,
		LossConsolation: 1,
	}
}

type flipPayload struct {
	Guess string `json:"guess"`
	Seed  string `json:"seed"`
}

type Contract struct {
	cfg          Config
	transactions games.TransactionReader
	settler      *games.Settler
	engine       *fairness.Engine
	logger       *zap.SugaredLogger
	block        entities.BlockContext
}

func NewContract(cfg Config, transactions games.TransactionReader, adapter games.Adapter, broadcaster games.Broadcaster, engine *fairness.Engine, logger *zap.SugaredLogger) *Contract {
	return &Contract{
		cfg:          cfg,
		transactions: transactions,
		settler:      games.NewSettler(Name, cfg.Account, adapter, broadcaster, logger),
		engine:       engine,
		logger:       logger,
	}
}

func (c *Contract) Create(_ context.Context) error {
	if c.cfg.Account == "" {
		return errors.New("coinflip house account not configured")
	}
	if c.cfg.MaxAmount <= 0 {
		return errors.Errorf("invalid coinflip max amount [%d]", c.cfg.MaxAmount)
	}
	c.logger.Infow("Coinflip ready", "account", c.cfg.Account, "maxAmount", c.cfg.MaxAmount, "currencies", c.cfg.ValidCurrencies)
	return nil
}

func (c *Contract) UpdateBlockContext(bc entities.BlockContext) {
	c.block = bc
}

func (c *Contract) Actions() map[string]contract.Action {
	return map[string]contract.Action{
		FlipAction: c.flip,
	}
}

func (c *Contract) flip(ctx context.Context, call contract.Call) error {
	if !call.IsTransfer() {
		c.logger.Debugw("Ignoring flip without transfer", "sender", call.Sender)
		return nil
	}
	bc := c.block

	var payload flipPayload
	if err := json.Unmarshal(call.Payload, &payload); err != nil {
		c.logger.Debugw("Unreadable flip payload", "trx", bc.TransactionID, "error", err)
	}

	amount, err := entities.ParseAsset(call.Amount)
	if err != nil {
		c.logger.Warnw("Ignoring transfer with invalid amount", "trx", bc.TransactionID, "amount", call.Amount, "error", err)
		return nil
	}

	verified, err := games.VerifyTransfer(ctx, c.transactions, bc, call.Sender, c.cfg.Account, call.Amount)
	if err != nil {
		return errors.Wrap(err, "verifying transfer")
	}
	if !verified {
		c.logger.Infow("Dropping unverified transfer", "trx", bc.TransactionID, "sender", call.Sender, "amount", call.Amount)
		return nil
	}

	settled, err := c.settler.Resume(ctx, bc, RefundAction, FlipAction)
	if err != nil || settled {
		return err
	}

	if !slices.Contains(c.cfg.ValidCurrencies, amount.Symbol) {
		return c.refund(ctx, bc, call, amount, MemoInvalidCurrency)
	}
	if amount.ExceedsUnits(c.cfg.MaxAmount) {
		return c.refund(ctx, bc, call, amount, MemoTooMuch)
	}
	if !slices.Contains(validGuesses, payload.Guess) {
		return c.refund(ctx, bc, call, amount, MemoInvalidGuess)
	}

	serverSeed := c.engine.NewServerSeed()
	roll := Outcome(bc, serverSeed, payload.Seed)
	won := roll == payload.Guess

	memo := fmt.Sprintf("%s | Guess: %s | Server Roll: %s | Previous block id: %s | BlockID: %s | Trx ID: %s | Server Seed: %s",
		resultTag(won), payload.Guess, roll, bc.PreviousBlockID, bc.BlockID, bc.TransactionID, serverSeed)
	payout := entities.Asset{Amount: c.cfg.LossConsolation, Symbol: amount.Symbol}
	if won {
		payout = amount.Mul(2).Sub(entities.Asset{Amount: c.cfg.WinFee})
	}

	c.logger.Infow("Coin flipped", "trx", bc.TransactionID, "sender", call.Sender, "guess", payload.Guess, "roll", roll, "won", won)
	return c.settler.Settle(ctx, bc, games.Decision{
		Action:  FlipAction,
		Payload: call.Payload,
		Data: map[string]string{
			"guess":           payload.Guess,
			"clientSeed":      payload.Seed,
			"serverRoll":      roll,
			"serverSeed":      serverSeed,
			"previousBlockId": bc.PreviousBlockID,
			"blockId":         bc.BlockID,
			"transactionId":   bc.TransactionID,
			"operationIndex":  strconv.Itoa(bc.OperationIndex),
			"stake":           amount.String(),
			"userWon":         strconv.FormatBool(won),
		},
		To:     call.Sender,
		Amount: payout,
		Memo:   memo,
	})
}

func (c *Contract) refund(ctx context.Context, bc entities.BlockContext, call contract.Call, amount entities.Asset, memo string) error {
	c.logger.Infow("Refunding flip", "trx", bc.TransactionID, "sender", call.Sender, "amount", amount.String(), "reason", memo)
	return c.settler.Settle(ctx, bc, games.Decision{
		Action:  RefundAction,
		Payload: call.Payload,
		Data:    map[string]string{"reason": memo},
		To:      call.Sender,
		Amount:  amount,
		Memo:    memo,
	})
}

// Outcome is the coin side for an invocation. Anyone can recompute it from the published memo.
func Outcome(bc entities.BlockContext, serverSeed, clientSeed string) string {
	value := fairness.Derive(bc.PreviousBlockID, bc.BlockID, bc.TransactionID, serverSeed, clientSeed)
	if fairness.Roll(value, 2) == 1 {
		return Heads
	}
	return Tails
}

func resultTag(won bool) string {
	if won {
		return "[Winner]"
	}
	return "[Lost]"
}
