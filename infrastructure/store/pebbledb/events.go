package pebbledb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble/v2"
	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
)

const (
	eventKeyPrefix  = "evt/"
	actionKeyPrefix = "act/"
)

// EventStore keeps contract events in the same pebble database as the processing state.
// Events live under evt/<contract>/<transaction id>/<operation index>/<action>. Every event also
// has an entry under act/<contract>/<action>/ that orders it by block, transaction and operation,
// so listing one action never scans the others.
type EventStore struct {
	db *pebble.DB
}

func (ps *Store) Events() *EventStore {
	return &EventStore{db: ps.db}
}

func operationPrefix(contract string, op entities.OperationRef) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%d/", eventKeyPrefix, contract, op.TransactionID, op.OperationIndex))
}

func eventKey(contract string, op entities.OperationRef, action string) []byte {
	return append(operationPrefix(contract, op), action...)
}

func actionPrefix(contract, action string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/", actionKeyPrefix, contract, action))
}

func actionKey(event entities.ContractEvent) []byte {
	key := actionPrefix(event.Contract, event.Action)
	key = binary.BigEndian.AppendUint64(key, event.BlockNumber)
	key = append(key, event.TransactionID...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint32(key, uint32(event.OperationIndex))
	return key
}

func (es *EventStore) AddEvent(_ context.Context, event entities.ContractEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "marshalling event")
	}

	key := eventKey(event.Contract, event.Operation(), event.Action)
	batch := es.db.NewBatch()
	defer batch.Close()

	if err = batch.Set(key, value, nil); err != nil {
		return errors.Wrapf(err, "adding event for operation [%s] to batch", event.Operation())
	}
	if err = batch.Set(actionKey(event), key, nil); err != nil {
		return errors.Wrapf(err, "adding action entry for operation [%s] to batch", event.Operation())
	}

	err = batch.Commit(pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "storing event for operation [%s]", event.Operation())
	}
	return nil
}

// GetEvent returns entities.ErrStoreEntityNotFound when the action was not recorded for the operation.
func (es *EventStore) GetEvent(_ context.Context, contract string, op entities.OperationRef, action string) (entities.ContractEvent, error) {
	return es.get(eventKey(contract, op, action))
}

// HasEvent reports whether any event was recorded for the contract and operation.
func (es *EventStore) HasEvent(_ context.Context, contract string, op entities.OperationRef) (bool, error) {
	iter, err := es.db.NewIter(prefixIterOptions(operationPrefix(contract, op)))
	if err != nil {
		return false, errors.Wrap(err, "creating iterator")
	}
	defer iter.Close()

	return iter.First(), nil
}

// Events returns the events of one contract action in chain order, keeping those whose data
// contains every pair of match.
func (es *EventStore) Events(_ context.Context, contract, action string, match map[string]string) ([]entities.ContractEvent, error) {
	iter, err := es.db.NewIter(prefixIterOptions(actionPrefix(contract, action)))
	if err != nil {
		return nil, errors.Wrap(err, "creating iterator")
	}
	defer iter.Close()

	var events []entities.ContractEvent
	for iter.First(); iter.Valid(); iter.Next() {
		key, err := iter.ValueAndErr()
		if err != nil {
			return nil, errors.Wrap(err, "getting value from iter")
		}

		event, err := es.get(key)
		if err != nil {
			return nil, err
		}
		if matches(event, match) {
			events = append(events, event)
		}
	}

	return events, nil
}

func (es *EventStore) CountEvents(_ context.Context, contract, action string) (int, error) {
	iter, err := es.db.NewIter(prefixIterOptions(actionPrefix(contract, action)))
	if err != nil {
		return 0, errors.Wrap(err, "creating iterator")
	}
	defer iter.Close()

	var count int
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, nil
}

func (es *EventStore) get(key []byte) (entities.ContractEvent, error) {
	value, closer, err := es.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return entities.ContractEvent{}, entities.ErrStoreEntityNotFound
		}
		return entities.ContractEvent{}, errors.Wrapf(err, "getting event [%s]", string(key))
	}
	defer closer.Close()

	var event entities.ContractEvent
	err = json.Unmarshal(value, &event)
	if err != nil {
		return entities.ContractEvent{}, errors.Wrapf(err, "unmarshalling event [%s]", string(key))
	}
	return event, nil
}

func matches(event entities.ContractEvent, match map[string]string) bool {
	for field, value := range match {
		if event.Data[field] != value {
			return false
		}
	}
	return true
}

func prefixIterOptions(prefix []byte) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	}
}

func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}
	return nil
}
