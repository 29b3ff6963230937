package games

import (
	"context"
	"errors"
	"testing"

	"github.com/qubic/hive-streamer/entities"
	"github.com/qubic/hive-streamer/infrastructure/store/pebbledb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ErrMock = errors.New("mock error")

type MockReader struct {
	transactions map[string]entities.Transaction
	err          error
}

func (mr *MockReader) GetTransaction(_ context.Context, _ uint64, transactionID string) (entities.Transaction, error) {
	if mr.err != nil {
		return entities.Transaction{}, mr.err
	}
	transaction, ok := mr.transactions[transactionID]
	if !ok {
		return entities.Transaction{}, entities.ErrDataUnavailable
	}
	return transaction, nil
}

type MockBroadcaster struct {
	transfers   []entities.TransferRequest
	shouldError bool
}

func (mb *MockBroadcaster) Transfer(_ context.Context, transfer entities.TransferRequest) error {
	if mb.shouldError {
		return ErrMock
	}
	mb.transfers = append(mb.transfers, transfer)
	return nil
}

func (mb *MockBroadcaster) Vote(_ context.Context, _ entities.VoteRequest) error {
	return nil
}

func TestVerifyTransfer(t *testing.T) {
	reader := &MockReader{transactions: map[string]entities.Transaction{
		"T1": {
			ID: "T1",
			Operations: []entities.Operation{
				entities.UnsupportedOperation{Type: "vote"},
				entities.TransferOperation{From: "alice", To: "beggars", Amount: "5.000 HIVE"},
			},
		},
	}}
	bc := entities.BlockContext{BlockNumber: 10, BlockID: "def", PreviousBlockID: "abc", TransactionID: "T1", OperationIndex: 1}
	ctx := context.Background()

	verified, err := VerifyTransfer(ctx, reader, bc, "alice", "beggars", "5.000 HIVE")
	require.NoError(t, err)
	assert.True(t, verified)

	// the invoking operation is the vote, not the transfer
	bc.OperationIndex = 0
	verified, err = VerifyTransfer(ctx, reader, bc, "alice", "beggars", "5.000 HIVE")
	require.NoError(t, err)
	assert.False(t, verified)

	bc.OperationIndex = 5
	verified, err = VerifyTransfer(ctx, reader, bc, "alice", "beggars", "5.000 HIVE")
	require.NoError(t, err)
	assert.False(t, verified)
	bc.OperationIndex = 1

	verified, err = VerifyTransfer(ctx, reader, bc, "alice", "beggars", "6.000 HIVE")
	require.NoError(t, err)
	assert.False(t, verified)

	verified, err = VerifyTransfer(ctx, reader, bc, "alice", "someone", "5.000 HIVE")
	require.NoError(t, err)
	assert.False(t, verified)

	bc.TransactionID = "T2"
	verified, err = VerifyTransfer(ctx, reader, bc, "alice", "beggars", "5.000 HIVE")
	require.NoError(t, err)
	assert.False(t, verified)

	reader.err = ErrMock
	_, err = VerifyTransfer(ctx, reader, bc, "alice", "beggars", "5.000 HIVE")
	require.ErrorIs(t, err, ErrMock)
}

func newTestSettler(t *testing.T, broadcaster Broadcaster) (*Settler, *pebbledb.EventStore) {
	store, err := pebbledb.NewProcessorStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	events := store.Events()
	return NewSettler("coinflip", "beggars", events, broadcaster, zap.NewNop().Sugar()), events
}

func TestSettler_SettleOnce(t *testing.T) {
	broadcaster := &MockBroadcaster{}
	settler, events := newTestSettler(t, broadcaster)
	ctx := context.Background()
	bc := entities.BlockContext{BlockNumber: 10, BlockID: "def", PreviousBlockID: "abc", TransactionID: "T1"}

	resumed, err := settler.Resume(ctx, bc, "refund")
	require.NoError(t, err)
	require.False(t, resumed)

	err = settler.Settle(ctx, bc, Decision{
		Action: "refund",
		Data:   map[string]string{"reason": "too much"},
		To:     "alice",
		Amount: entities.Asset{Amount: 25000, Symbol: "HIVE"},
		Memo:   "[Refund] You sent too much.",
	})
	require.NoError(t, err)
	require.Equal(t, []entities.TransferRequest{{From: "beggars", To: "alice", Amount: "25.000 HIVE", Memo: "[Refund] You sent too much."}}, broadcaster.transfers)

	decision, err := events.GetEvent(ctx, "coinflip", bc.Operation(), "refund")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), decision.BlockNumber)
	assert.Equal(t, map[string]string{
		"reason": "too much",
		"to":     "alice",
		"amount": "25.000 HIVE",
		"memo":   "[Refund] You sent too much.",
	}, decision.Data)

	resumed, err = settler.Resume(ctx, bc, "refund")
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Len(t, broadcaster.transfers, 1)
}

func TestSettler_ResumePaysRecordedDecision(t *testing.T) {
	broadcaster := &MockBroadcaster{shouldError: true}
	settler, events := newTestSettler(t, broadcaster)
	ctx := context.Background()
	bc := entities.BlockContext{BlockNumber: 10, BlockID: "def", PreviousBlockID: "abc", TransactionID: "T1"}

	err := settler.Settle(ctx, bc, Decision{
		Action: "flip",
		To:     "alice",
		Amount: entities.Asset{Amount: 10000, Symbol: "HIVE"},
		Memo:   "[Winner]",
	})
	require.ErrorIs(t, err, ErrMock)

	_, err = events.GetEvent(ctx, "coinflip", bc.Operation(), SettledAction)
	require.ErrorIs(t, err, entities.ErrStoreEntityNotFound)

	broadcaster.shouldError = false
	resumed, err := settler.Resume(ctx, bc, "refund", "flip")
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Equal(t, []entities.TransferRequest{{From: "beggars", To: "alice", Amount: "10.000 HIVE", Memo: "[Winner]"}}, broadcaster.transfers)

	settled, err := events.GetEvent(ctx, "coinflip", bc.Operation(), SettledAction)
	require.NoError(t, err)
	assert.Equal(t, "flip", settled.Data["decision"])

	resumed, err = settler.Resume(ctx, bc, "refund", "flip")
	require.NoError(t, err)
	assert.True(t, resumed)
	assert.Len(t, broadcaster.transfers, 1)
}

func TestSettler_ResumeIgnoresOtherActions(t *testing.T) {
	settler, events := newTestSettler(t, &MockBroadcaster{})
	ctx := context.Background()
	bc := entities.BlockContext{BlockNumber: 10, TransactionID: "T1"}

	require.NoError(t, events.AddEvent(ctx, entities.ContractEvent{Contract: "coinflip", Action: "ticket", TransactionID: "T1"}))

	resumed, err := settler.Resume(ctx, bc, "refund", "draw")
	require.NoError(t, err)
	assert.False(t, resumed)
}

func TestSettler_OperationsSettleIndependently(t *testing.T) {
	broadcaster := &MockBroadcaster{}
	settler, _ := newTestSettler(t, broadcaster)
	ctx := context.Background()
	first := entities.BlockContext{BlockNumber: 10, BlockID: "def", PreviousBlockID: "abc", TransactionID: "T1"}
	second := first
	second.OperationIndex = 1

	require.NoError(t, settler.Settle(ctx, first, Decision{Action: "flip", To: "alice", Amount: entities.Asset{Amount: 10000, Symbol: "HIVE"}, Memo: "first"}))

	resumed, err := settler.Resume(ctx, second, "refund", "flip")
	require.NoError(t, err)
	assert.False(t, resumed)

	require.NoError(t, settler.Settle(ctx, second, Decision{Action: "flip", To: "alice", Amount: entities.Asset{Amount: 14000, Symbol: "HIVE"}, Memo: "second"}))
	assert.Equal(t, []entities.TransferRequest{
		{From: "beggars", To: "alice", Amount: "10.000 HIVE", Memo: "first"},
		{From: "beggars", To: "alice", Amount: "14.000 HIVE", Memo: "second"},
	}, broadcaster.transfers)

	for _, bc := range []entities.BlockContext{first, second} {
		resumed, err = settler.Resume(ctx, bc, "refund", "flip")
		require.NoError(t, err)
		assert.True(t, resumed)
	}
	assert.Len(t, broadcaster.transfers, 2)
}
