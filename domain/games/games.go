// Package games holds what the reference contracts share: the event adapter they audit to,
// the broadcaster they pay through and the settlement bookkeeping that makes a retried
// block safe to process again.
package games

import (
	"context"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
)

// Adapter stores contract events, at most one per contract, operation and action.
// GetEvent returns entities.ErrStoreEntityNotFound for unknown events.
type Adapter interface {
	AddEvent(ctx context.Context, event entities.ContractEvent) error
	GetEvent(ctx context.Context, contract string, op entities.OperationRef, action string) (entities.ContractEvent, error)
	HasEvent(ctx context.Context, contract string, op entities.OperationRef) (bool, error)
	// Events returns the events of an action whose data contains every pair of match, in chain order.
	Events(ctx context.Context, contract, action string, match map[string]string) ([]entities.ContractEvent, error)
	CountEvents(ctx context.Context, contract, action string) (int, error)
}

// Broadcaster hands outgoing operations to the signing service.
type Broadcaster interface {
	Transfer(ctx context.Context, transfer entities.TransferRequest) error
	Vote(ctx context.Context, vote entities.VoteRequest) error
}

type TransactionReader interface {
	GetTransaction(ctx context.Context, blockNumber uint64, transactionID string) (entities.Transaction, error)
}

// VerifyTransfer looks up the transaction on chain and checks that the invoking operation is the transfer.
// A transaction that cannot be found is reported as not verified.
func VerifyTransfer(ctx context.Context, reader TransactionReader, bc entities.BlockContext, from, to, amount string) (bool, error) {
	transaction, err := reader.GetTransaction(ctx, bc.BlockNumber, bc.TransactionID)
	if errors.Is(err, entities.ErrDataUnavailable) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "getting transaction [%s]", bc.TransactionID)
	}

	if bc.OperationIndex < 0 || bc.OperationIndex >= len(transaction.Operations) {
		return false, nil
	}
	transfer, ok := transaction.Operations[bc.OperationIndex].(entities.TransferOperation)
	if !ok {
		return false, nil
	}
	return transfer.From == from && transfer.To == to && transfer.Amount == amount, nil
}
