package games

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
	"go.uber.org/zap"
)

// SettledAction marks an operation whose transfer was handed to the broadcaster.
const SettledAction = "settled"

const (
	dataTo     = "to"
	dataAmount = "amount"
	dataMemo   = "memo"
)

// Decision is the outcome of one invocation together with the transfer from the house account it results in.
type Decision struct {
	Action  string
	Payload json.RawMessage
	Data    map[string]string
	To      string
	Amount  entities.Asset
	Memo    string
}

// Settler records a decision before paying it and marks the operation settled afterwards.
// Every operation of a transaction is settled on its own. When a block is processed again,
// settled operations are skipped and recorded but unpaid decisions are paid without being
// decided a second time.
type Settler struct {
	contract    string
	account     string
	adapter     Adapter
	broadcaster Broadcaster
	logger      *zap.SugaredLogger
	now         func() time.Time
}

func NewSettler(contract, account string, adapter Adapter, broadcaster Broadcaster, logger *zap.SugaredLogger) *Settler {
	return &Settler{
		contract:    contract,
		account:     account,
		adapter:     adapter,
		broadcaster: broadcaster,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Resume reports whether the invoking operation was already decided. A pending decision recorded
// under one of actions is paid before returning.
func (s *Settler) Resume(ctx context.Context, bc entities.BlockContext, actions ...string) (bool, error) {
	op := bc.Operation()
	found, err := s.adapter.HasEvent(ctx, s.contract, op)
	if err != nil {
		return false, errors.Wrap(err, "checking recorded events")
	}
	if !found {
		return false, nil
	}

	_, err = s.adapter.GetEvent(ctx, s.contract, op, SettledAction)
	if err == nil {
		s.logger.Infow("Skipping settled operation", "contract", s.contract, "operation", op.String())
		return true, nil
	}
	if !errors.Is(err, entities.ErrStoreEntityNotFound) {
		return false, errors.Wrap(err, "getting settlement")
	}

	for _, action := range actions {
		decision, err := s.adapter.GetEvent(ctx, s.contract, op, action)
		if errors.Is(err, entities.ErrStoreEntityNotFound) {
			continue
		}
		if err != nil {
			return false, errors.Wrapf(err, "getting [%s] decision", action)
		}

		s.logger.Infow("Paying recorded decision", "contract", s.contract, "action", action, "operation", op.String())
		return true, s.pay(ctx, decision)
	}
	return false, nil
}

func (s *Settler) Settle(ctx context.Context, bc entities.BlockContext, decision Decision) error {
	data := maps.Clone(decision.Data)
	if data == nil {
		data = make(map[string]string)
	}
	data[dataTo] = decision.To
	data[dataAmount] = decision.Amount.String()
	data[dataMemo] = decision.Memo

	event := entities.ContractEvent{
		Date:           s.now(),
		Contract:       s.contract,
		Action:         decision.Action,
		TransactionID:  bc.TransactionID,
		OperationIndex: bc.OperationIndex,
		BlockNumber:    bc.BlockNumber,
		Payload:        decision.Payload,
		Data:           data,
	}
	err := s.adapter.AddEvent(ctx, event)
	if err != nil {
		return errors.Wrapf(err, "recording [%s] decision", decision.Action)
	}

	return s.pay(ctx, event)
}

func (s *Settler) pay(ctx context.Context, decision entities.ContractEvent) error {
	transfer := entities.TransferRequest{
		From:   s.account,
		To:     decision.Data[dataTo],
		Amount: decision.Data[dataAmount],
		Memo:   decision.Data[dataMemo],
	}
	err := s.broadcaster.Transfer(ctx, transfer)
	if err != nil {
		return errors.Wrapf(err, "transferring [%s] to [%s]", transfer.Amount, transfer.To)
	}

	err = s.adapter.AddEvent(ctx, entities.ContractEvent{
		Date:           s.now(),
		Contract:       s.contract,
		Action:         SettledAction,
		TransactionID:  decision.TransactionID,
		OperationIndex: decision.OperationIndex,
		BlockNumber:    decision.BlockNumber,
		Data: map[string]string{
			"decision": decision.Action,
			dataTo:     transfer.To,
			dataAmount: transfer.Amount,
		},
	})
	if err != nil {
		return errors.Wrap(err, "recording settlement")
	}
	return nil
}
