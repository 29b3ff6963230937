package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/qubic/hive-streamer/entities"
	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	TransferType = "transfer"
	VoteType     = "vote"
)

type KafkaClient interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// OperationRecord is the value of every record on the operations topic. The signing service
// consuming the topic broadcasts the operation to the ledger.
type OperationRecord struct {
	Type     string                    `json:"type"`
	Transfer *entities.TransferRequest `json:"transfer,omitempty"`
	Vote     *entities.VoteRequest     `json:"vote,omitempty"`
}

// Broadcaster publishes outgoing ledger operations. Records are keyed by the receiving account so
// operations for one account keep their order.
type Broadcaster struct {
	kcl KafkaClient
}

func NewBroadcaster(kafkaClient KafkaClient) *Broadcaster {
	return &Broadcaster{
		kcl: kafkaClient,
	}
}

func (b *Broadcaster) Transfer(ctx context.Context, transfer entities.TransferRequest) error {
	record, err := createRecord(transfer.To, OperationRecord{Type: TransferType, Transfer: &transfer})
	if err != nil {
		return errors.Wrap(err, "creating transfer record")
	}
	return b.produce(ctx, record)
}

func (b *Broadcaster) Vote(ctx context.Context, vote entities.VoteRequest) error {
	record, err := createRecord(vote.Author, OperationRecord{Type: VoteType, Vote: &vote})
	if err != nil {
		return errors.Wrap(err, "creating vote record")
	}
	return b.produce(ctx, record)
}

// produce waits for the broker acknowledgement. Failures are returned and never retried here.
func (b *Broadcaster) produce(ctx context.Context, record *kgo.Record) error {
	produced := make(chan error, 1)
	b.kcl.Produce(ctx, record, func(_ *kgo.Record, err error) {
		produced <- err
	})

	select {
	case err := <-produced:
		if err != nil {
			return errors.Errorf("producing operation record: %v", err)
		}
		return nil
	case <-ctx.Done():
		return errors.Errorf("producing operation record: %v", ctx.Err())
	}
}

func createRecord(key string, operation OperationRecord) (*kgo.Record, error) {
	payload, err := json.Marshal(operation)
	if err != nil {
		return nil, fmt.Errorf("marshalling operation to json: %w", err)
	}

	return &kgo.Record{
		Key:   []byte(key),
		Value: payload,
	}, nil
}
