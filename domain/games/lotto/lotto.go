package lotto

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/domain/contract"
	"github.com/qubic/hive-streamer/domain/fairness"
	"github.com/qubic/hive-streamer/domain/games"
	"github.com/qubic/hive-streamer/entities"
	"go.uber.org/zap"
)

const Name = "hivelotto"

const (
	BuyAction    = "buy"
	TicketAction = "ticket"
	DrawAction   = "draw"
	RefundAction = "refund"
)

const MemoInvalidCurrency = "[Refund] You sent an invalid currency."

const dataRound = "round"

type Config struct {
	Account         string
	ValidCurrencies []string
	// TicketCost in whole tokens.
	TicketCost int64
	// MaxEntries tickets fill a round and trigger its draw.
	MaxEntries int
	// HouseCut is the share of the pot kept by the house, in percent.
	HouseCut int64
}

func DefaultConfig() Config {
	return Config{
		Account:         "beggars",
		ValidCurrencies: []string{"HIVE"},
		TicketCost:      10,
		MaxEntries:      50,
		HouseCut:        5,
	}
}

// Ticket is one paid entry of a round. A transaction can buy several tickets, one per transfer.
type Ticket struct {
	Owner          string
	BlockNumber    uint64
	TransactionID  string
	OperationIndex int
}

type Contract struct {
	cfg          Config
	transactions games.TransactionReader
	adapter      games.Adapter
	settler      *games.Settler
	engine       *fairness.Engine
	logger       *zap.SugaredLogger
	block        entities.BlockContext
}

func NewContract(cfg Config, transactions games.TransactionReader, adapter games.Adapter, broadcaster games.Broadcaster, engine *fairness.Engine, logger *zap.SugaredLogger) *Contract {
	return &Contract{
		cfg:          cfg,
		transactions: transactions,
		adapter:      adapter,
		settler:      games.NewSettler(Name, cfg.Account, adapter, broadcaster, logger),
		engine:       engine,
		logger:       logger,
	}
}

func (c *Contract) Create(_ context.Context) error {
	if c.cfg.Account == "" {
		return errors.New("lotto house account not configured")
	}
	if c.cfg.TicketCost <= 0 || c.cfg.MaxEntries <= 0 {
		return errors.Errorf("invalid lotto ticket cost [%d] or max entries [%d]", c.cfg.TicketCost, c.cfg.MaxEntries)
	}
	if c.cfg.HouseCut < 0 || c.cfg.HouseCut > 100 {
		return errors.Errorf("invalid lotto house cut [%d]", c.cfg.HouseCut)
	}
	return nil
}

func (c *Contract) Destroy(_ context.Context) error {
	c.logger.Infow("Lotto unregistered", "account", c.cfg.Account)
	return nil
}

func (c *Contract) UpdateBlockContext(bc entities.BlockContext) {
	c.block = bc
}

func (c *Contract) Actions() map[string]contract.Action {
	return map[string]contract.Action{
		BuyAction: c.buy,
	}
}

func (c *Contract) buy(ctx context.Context, call contract.Call) error {
	if !call.IsTransfer() {
		return nil
	}
	bc := c.block

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

	settled, err := c.settler.Resume(ctx, bc, RefundAction, DrawAction)
	if err != nil || settled {
		return err
	}

	if !slices.Contains(c.cfg.ValidCurrencies, amount.Symbol) {
		return c.refund(ctx, bc, call, amount, MemoInvalidCurrency)
	}
	if amount != entities.AssetFromUnits(c.cfg.TicketCost, amount.Symbol) {
		memo := fmt.Sprintf("[Refund] A ticket costs %d %s. You sent %s", c.cfg.TicketCost, amount.Symbol, call.Amount)
		return c.refund(ctx, bc, call, amount, memo)
	}

	round, err := c.CurrentRound(ctx)
	if err != nil {
		return err
	}

	_, err = c.adapter.GetEvent(ctx, Name, bc.Operation(), TicketAction)
	switch {
	case errors.Is(err, entities.ErrStoreEntityNotFound):
		err = c.adapter.AddEvent(ctx, entities.ContractEvent{
			Date:           time.Now().UTC(),
			Contract:       Name,
			Action:         TicketAction,
			TransactionID:  bc.TransactionID,
			OperationIndex: bc.OperationIndex,
			BlockNumber:    bc.BlockNumber,
			Payload:        call.Payload,
			Data: map[string]string{
				"owner":   call.Sender,
				dataRound: strconv.Itoa(round),
				"amount":  amount.String(),
			},
		})
		if err != nil {
			return errors.Wrap(err, "recording ticket")
		}
		c.logger.Infow("Lotto ticket bought", "operation", bc.Operation().String(), "owner", call.Sender, "round", round)
	case err != nil:
		return errors.Wrap(err, "getting ticket")
	}

	tickets, err := c.Tickets(ctx, round)
	if err != nil {
		return err
	}
	if len(tickets) < c.cfg.MaxEntries {
		return nil
	}
	return c.draw(ctx, bc, round, tickets, amount.Symbol)
}

// draw picks the winner of a full round from the transaction that filled it.
func (c *Contract) draw(ctx context.Context, bc entities.BlockContext, round int, tickets []Ticket, symbol string) error {
	serverSeed := c.engine.NewServerSeed()
	roll := fairness.Roll(fairness.Derive(bc.PreviousBlockID, bc.BlockID, bc.TransactionID, serverSeed, ""), len(tickets))
	winner := tickets[roll-1]

	pot := entities.AssetFromUnits(c.cfg.TicketCost, symbol).Mul(int64(len(tickets)))
	prize := pot.Sub(pot.Percent(c.cfg.HouseCut))

	memo := fmt.Sprintf("[Winner] Lotto round %d | Tickets: %d | Roll: %d | Previous block id: %s | BlockID: %s | Trx ID: %s | Server Seed: %s",
		round, len(tickets), roll, bc.PreviousBlockID, bc.BlockID, bc.TransactionID, serverSeed)

	c.logger.Infow("Lotto round drawn", "round", round, "winner", winner.Owner, "roll", roll, "prize", prize.String())
	return c.settler.Settle(ctx, bc, games.Decision{
		Action: DrawAction,
		Data: map[string]string{
			dataRound:          strconv.Itoa(round),
			"winner":           winner.Owner,
			"winningTicket":    winner.TransactionID,
			"winningOperation": strconv.Itoa(winner.OperationIndex),
			"roll":             strconv.Itoa(roll),
			"entries":          strconv.Itoa(len(tickets)),
			"serverSeed":       serverSeed,
			"previousBlockId":  bc.PreviousBlockID,
			"blockId":          bc.BlockID,
			"transactionId":    bc.TransactionID,
		},
		To:     winner.Owner,
		Amount: prize,
		Memo:   memo,
	})
}

func (c *Contract) refund(ctx context.Context, bc entities.BlockContext, call contract.Call, amount entities.Asset, memo string) error {
	c.logger.Infow("Refunding lotto ticket", "trx", bc.TransactionID, "sender", call.Sender, "amount", amount.String(), "reason", memo)
	return c.settler.Settle(ctx, bc, games.Decision{
		Action:  RefundAction,
		Payload: call.Payload,
		Data:    map[string]string{"reason": memo},
		To:      call.Sender,
		Amount:  amount,
		Memo:    memo,
	})
}

// CurrentRound starts at 1 and moves on with every recorded draw.
func (c *Contract) CurrentRound(ctx context.Context) (int, error) {
	draws, err := c.adapter.CountEvents(ctx, Name, DrawAction)
	if err != nil {
		return 0, errors.Wrap(err, "counting draws")
	}
	return draws + 1, nil
}

// Tickets of a round in chain order.
func (c *Contract) Tickets(ctx context.Context, round int) ([]Ticket, error) {
	events, err := c.adapter.Events(ctx, Name, TicketAction, map[string]string{dataRound: strconv.Itoa(round)})
	if err != nil {
		return nil, errors.Wrapf(err, "getting tickets of round [%d]", round)
	}

	tickets := make([]Ticket, 0, len(events))
	for _, event := range events {
		tickets = append(tickets, Ticket{
			Owner:          event.Data["owner"],
			BlockNumber:    event.BlockNumber,
			TransactionID:  event.TransactionID,
			OperationIndex: event.OperationIndex,
		})
	}

	slices.SortFunc(tickets, func(a, b Ticket) int {
		return cmp.Or(
			cmp.Compare(a.BlockNumber, b.BlockNumber),
			cmp.Compare(a.TransactionID, b.TransactionID),
			cmp.Compare(a.OperationIndex, b.OperationIndex),
		)
	})
	return tickets, nil
}
