package hive

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
)

// rawBlock is the condenser_api representation of a block. Operations are [type, value] pairs.
type rawBlock struct {
	Previous       string           `json:"previous"`
	Timestamp      string           `json:"timestamp"`
	BlockID        string           `json:"block_id"`
	Transactions   []rawTransaction `json:"transactions"`
	TransactionIDs []string         `json:"transaction_ids"`
}

type rawTransaction struct {
	Operations []json.RawMessage `json:"operations"`
}

func (rb rawBlock) toBlock(blockNumber uint64) (entities.Block, error) {
	timestamp, err := time.Parse(timestampLayout, rb.Timestamp)
	if err != nil {
		return entities.Block{}, errors.Wrapf(err, "parsing timestamp [%s]", rb.Timestamp)
	}
	if len(rb.TransactionIDs) != len(rb.Transactions) {
		return entities.Block{}, errors.Errorf("got %d transaction ids for %d transactions", len(rb.TransactionIDs), len(rb.Transactions))
	}

	block := entities.Block{
		Number:       blockNumber,
		ID:           rb.BlockID,
		PreviousID:   rb.Previous,
		Timestamp:    timestamp,
		Transactions: make([]entities.Transaction, 0, len(rb.Transactions)),
	}

	for i, rawTx := range rb.Transactions {
		transaction := entities.Transaction{
			ID:         rb.TransactionIDs[i],
			Operations: make([]entities.Operation, 0, len(rawTx.Operations)),
		}
		for _, rawOp := range rawTx.Operations {
			op, err := convertOperation(rawOp)
			if err != nil {
				return entities.Block{}, errors.Wrapf(err, "converting operation of transaction [%s]", transaction.ID)
			}
			transaction.Operations = append(transaction.Operations, op)
		}
		block.Transactions = append(block.Transactions, transaction)
	}

	return block, nil
}

func convertOperation(raw json.RawMessage) (entities.Operation, error) {
	var pair []json.RawMessage
	err := json.Unmarshal(raw, &pair)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshalling operation")
	}
	if len(pair) != 2 {
		return nil, errors.Errorf("expected [type, value] operation, got %d elements", len(pair))
	}

	var opType string
	err = json.Unmarshal(pair[0], &opType)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshalling operation type")
	}

	switch opType {
	case "transfer":
		var op entities.TransferOperation
		if err := json.Unmarshal(pair[1], &op); err != nil {
			return nil, errors.Wrap(err, "unmarshalling transfer")
		}
		return op, nil
	case "custom_json":
		var op entities.CustomJSONOperation
		if err := json.Unmarshal(pair[1], &op); err != nil {
			return nil, errors.Wrap(err, "unmarshalling custom json")
		}
		return op, nil
	case "comment":
		var op entities.CommentOperation
		if err := json.Unmarshal(pair[1], &op); err != nil {
			return nil, errors.Wrap(err, "unmarshalling comment")
		}
		return op, nil
	default:
		return entities.UnsupportedOperation{Type: opType}, nil
	}
}
