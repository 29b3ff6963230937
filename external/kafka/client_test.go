package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/qubic/hive-streamer/entities"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type MockKafkaClient struct {
	shouldError bool
	records     []*kgo.Record
	mutex       sync.Mutex
}

func (mkc *MockKafkaClient) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	mkc.mutex.Lock()
	mkc.records = append(mkc.records, r)
	mkc.mutex.Unlock()

	if mkc.shouldError {
		go promise(nil, errors.New("dummy error"))
		return
	}

	go promise(r, nil)
}

// BlockingKafkaClient never acknowledges.
type BlockingKafkaClient struct{}

func (BlockingKafkaClient) Produce(_ context.Context, _ *kgo.Record, _ func(*kgo.Record, error)) {}

func TestBroadcaster_Transfer(t *testing.T) {
	testData := []struct {
		name        string
		transfer    entities.TransferRequest
		shouldError bool
	}{
		{
			name:     "TestTransfer_1",
			transfer: entities.TransferRequest{From: "beggars", To: "alice", Amount: "10.000 HIVE", Memo: "[Winner] | Guess: heads"},
		},
		{
			name:        "TestTransfer_2",
			transfer:    entities.TransferRequest{From: "beggars", To: "bob", Amount: "0.001 HIVE", Memo: "[Lost] | Guess: tails"},
			shouldError: true,
		},
	}

	for _, testRun := range testData {
		t.Run(testRun.name, func(t *testing.T) {
			kcl := &MockKafkaClient{shouldError: testRun.shouldError}
			broadcaster := NewBroadcaster(kcl)

			err := broadcaster.Transfer(context.Background(), testRun.transfer)
			if testRun.shouldError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			require.Len(t, kcl.records, 1)
			assert.Equal(t, []byte(testRun.transfer.To), kcl.records[0].Key)

			var record OperationRecord
			require.NoError(t, json.Unmarshal(kcl.records[0].Value, &record))
			assert.Equal(t, TransferType, record.Type)
			require.NotNil(t, record.Transfer)
			assert.Equal(t, testRun.transfer, *record.Transfer)
			assert.Nil(t, record.Vote)
		})
	}
}

func TestBroadcaster_Vote(t *testing.T) {
	kcl := &MockKafkaClient{}
	broadcaster := NewBroadcaster(kcl)

	vote := entities.VoteRequest{Voter: "beggars", Author: "alice", Permlink: "my-post", Weight: 10000}
	require.NoError(t, broadcaster.Vote(context.Background(), vote))

	require.Len(t, kcl.records, 1)
	assert.Equal(t, []byte("alice"), kcl.records[0].Key)
	assert.JSONEq(t, `{"type":"vote","vote":{"voter":"beggars","author":"alice","permlink":"my-post","weight":10000}}`, string(kcl.records[0].Value))
}

func TestBroadcaster_ContextDone(t *testing.T) {
	broadcaster := NewBroadcaster(BlockingKafkaClient{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := broadcaster.Transfer(ctx, entities.TransferRequest{From: "beggars", To: "alice", Amount: "1.000 HIVE"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
