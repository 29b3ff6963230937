package dispatch

import (
	"context"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/domain/contract"
	"github.com/qubic/hive-streamer/entities"
	"go.uber.org/zap"
)

type CommentCallback func(ctx context.Context, op entities.CommentOperation, meta entities.OperationMeta) error

type TransferCallback func(ctx context.Context, op entities.TransferOperation, meta entities.OperationMeta) error

type CustomJSONCallback func(ctx context.Context, op entities.CustomJSONOperation, signer Signer, meta entities.OperationMeta) error

// Signer is the account that authorized a custom json operation.
type Signer struct {
	Sender              string
	SignedWithActiveKey bool
}

type ContractResolver interface {
	Resolve(name string) (contract.Handler, bool)
}

type transferSubscription struct {
	account  string
	callback TransferCallback
}

type customJSONIDSubscription struct {
	id       string
	callback CustomJSONCallback
}

// Dispatcher routes every operation to the matching subscribers and contract action. Operations are
// handled one at a time; subscribe before the poller starts.
type Dispatcher struct {
	contracts                 ContractResolver
	postSubscriptions         []CommentCallback
	commentSubscriptions      []CommentCallback
	transferSubscriptions     []transferSubscription
	customJSONSubscriptions   []CustomJSONCallback
	customJSONIDSubscriptions []customJSONIDSubscription
	logger                    *zap.SugaredLogger
}

func NewDispatcher(contracts ContractResolver, logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		contracts: contracts,
		logger:    logger,
	}
}

func (d *Dispatcher) OnPost(callback CommentCallback) {
	d.postSubscriptions = append(d.postSubscriptions, callback)
}

func (d *Dispatcher) OnComment(callback CommentCallback) {
	d.commentSubscriptions = append(d.commentSubscriptions, callback)
}

// OnTransfer subscribes to transfers received by account.
func (d *Dispatcher) OnTransfer(account string, callback TransferCallback) {
	d.transferSubscriptions = append(d.transferSubscriptions, transferSubscription{account: account, callback: callback})
}

func (d *Dispatcher) OnCustomJSON(callback CustomJSONCallback) {
	d.customJSONSubscriptions = append(d.customJSONSubscriptions, callback)
}

func (d *Dispatcher) OnCustomJSONID(id string, callback CustomJSONCallback) {
	d.customJSONIDSubscriptions = append(d.customJSONIDSubscriptions, customJSONIDSubscription{id: id, callback: callback})
}

func (d *Dispatcher) Process(ctx context.Context, op entities.Operation, meta entities.OperationMeta) error {
	switch operation := op.(type) {
	case entities.CommentOperation:
		return d.processComment(ctx, operation, meta)
	case entities.TransferOperation:
		return d.processTransfer(ctx, operation, meta)
	case entities.CustomJSONOperation:
		return d.processCustomJSON(ctx, operation, meta)
	default:
		return nil
	}
}

func (d *Dispatcher) processComment(ctx context.Context, op entities.CommentOperation, meta entities.OperationMeta) error {
	subscriptions := d.commentSubscriptions
	if op.IsPost() {
		subscriptions = d.postSubscriptions
	}

	for _, callback := range subscriptions {
		if err := callback(ctx, op, meta); err != nil {
			return errors.Wrapf(err, "notifying comment subscriber for [%s/%s]", op.Author, op.Permlink)
		}
	}
	return nil
}

func (d *Dispatcher) processTransfer(ctx context.Context, op entities.TransferOperation, meta entities.OperationMeta) error {
	if invocation, ok := entities.TryParseInvocation(op.Memo); ok {
		call := contract.Call{
			Payload: invocation.Payload,
			Sender:  op.From,
			Amount:  op.Amount,
		}
		if err := d.invoke(ctx, invocation, call, meta); err != nil {
			return err
		}
	}

	for _, subscription := range d.transferSubscriptions {
		if subscription.account != op.To {
			continue
		}
		if err := subscription.callback(ctx, op, meta); err != nil {
			return errors.Wrapf(err, "notifying transfer subscriber of [%s]", op.To)
		}
	}
	return nil
}

func (d *Dispatcher) processCustomJSON(ctx context.Context, op entities.CustomJSONOperation, meta entities.OperationMeta) error {
	signer := signerOf(op)

	if invocation, ok := entities.TryParseInvocation(op.JSON); ok {
		call := contract.Call{
			Payload:             invocation.Payload,
			Sender:              signer.Sender,
			SignedWithActiveKey: signer.SignedWithActiveKey,
			OperationID:         op.ID,
		}
		if err := d.invoke(ctx, invocation, call, meta); err != nil {
			return err
		}
	}

	for _, callback := range d.customJSONSubscriptions {
		if err := callback(ctx, op, signer, meta); err != nil {
			return errors.Wrapf(err, "notifying custom json subscriber for [%s]", op.ID)
		}
	}

	for _, subscription := range d.customJSONIDSubscriptions {
		if subscription.id != op.ID {
			continue
		}
		if err := subscription.callback(ctx, op, signer, meta); err != nil {
			return errors.Wrapf(err, "notifying custom json subscriber for [%s]", op.ID)
		}
	}
	return nil
}

// signerOf prefers active authorities over posting authorities.
func signerOf(op entities.CustomJSONOperation) Signer {
	if len(op.RequiredAuths) > 0 {
		return Signer{Sender: op.RequiredAuths[0], SignedWithActiveKey: true}
	}
	if len(op.RequiredPostingAuths) > 0 {
		return Signer{Sender: op.RequiredPostingAuths[0]}
	}
	return Signer{}
}

// invoke is a silent no-op for unknown contracts and actions.
func (d *Dispatcher) invoke(ctx context.Context, invocation entities.ContractInvocation, call contract.Call, meta entities.OperationMeta) error {
	handler, ok := d.contracts.Resolve(invocation.Name)
	if !ok {
		return nil
	}

	// a resolved contract always sees the block, even when the action turns out to be unknown
	if updater, ok := handler.(contract.BlockContextUpdater); ok {
		updater.UpdateBlockContext(meta.BlockContext())
	}

	action, ok := handler.Actions()[invocation.Action]
	if !ok || action == nil {
		d.logger.Debugw("Unknown contract action", "contract", invocation.Name, "action", invocation.Action, "trx", meta.TransactionID)
		return nil
	}

	d.logger.Debugw("Invoking contract", "contract", invocation.Name, "action", invocation.Action,
		"block", meta.BlockNumber, "trx", meta.TransactionID, "sender", call.Sender)
	err := action(ctx, call)
	if err != nil {
		return errors.Wrapf(err, "invoking [%s.%s] for transaction [%s]", invocation.Name, invocation.Action, meta.TransactionID)
	}
	return nil
}
