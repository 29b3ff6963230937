package coinflip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/qubic/hive-streamer/domain/contract"
	"github.com/qubic/hive-streamer/domain/dispatch"
	"github.com/qubic/hive-streamer/domain/fairness"
	"github.com/qubic/hive-streamer/entities"
	"github.com/qubic/hive-streamer/infrastructure/store/pebbledb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const knownSeed = "0f8fad5b-d9cb-469f-a165-70867728950e"

var ErrMock = errors.New("mock error")

var testBlock = entities.BlockContext{BlockNumber: 1000, BlockID: "def", PreviousBlockID: "abc", TransactionID: "T1"}

type MockReader struct {
	transactions map[string]entities.Transaction
}

func (mr *MockReader) GetTransaction(_ context.Context, _ uint64, transactionID string) (entities.Transaction, error) {
	transaction, ok := mr.transactions[transactionID]
	if !ok {
		return entities.Transaction{}, entities.ErrDataUnavailable
	}
	return transaction, nil
}

// onChain makes the reader confirm the transfer for transaction T1.
func (mr *MockReader) onChain(from, amount string) {
	mr.transactions = map[string]entities.Transaction{
		"T1": {ID: "T1", Operations: []entities.Operation{entities.TransferOperation{From: from, To: "beggars", Amount: amount}}},
	}
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

type testSetup struct {
	contract    *Contract
	reader      *MockReader
	broadcaster *MockBroadcaster
	events      *pebbledb.EventStore
}

func newTestSetup(t *testing.T, cfg Config) testSetup {
	store, err := pebbledb.NewProcessorStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reader := &MockReader{}
	broadcaster := &MockBroadcaster{}
	events := store.Events()
	c := NewContract(cfg, reader, events, broadcaster, fairness.NewFixedSeedEngine(knownSeed), zap.NewNop().Sugar())
	require.NoError(t, c.Create(context.Background()))
	c.UpdateBlockContext(testBlock)

	return testSetup{contract: c, reader: reader, broadcaster: broadcaster, events: events}
}

func (ts testSetup) flip(t *testing.T, sender, amount, payload string) error {
	ts.reader.onChain(sender, amount)
	return ts.contract.Actions()[FlipAction](context.Background(), contract.Call{
		Payload: json.RawMessage(payload),
		Sender:  sender,
		Amount:  amount,
	})
}

func opposite(side string) string {
	if side == Heads {
		return Tails
	}
	return Heads
}

func TestOutcome_Reproducible(t *testing.T) {
	first := Outcome(testBlock, knownSeed, "")
	second := Outcome(testBlock, knownSeed, "")

	assert.Equal(t, first, second)
	assert.Contains(t, []string{Heads, Tails}, first)

	value := fairness.Derive("abc", "def", "T1", knownSeed, "")
	expected := Tails
	if fairness.Roll(value, 2) == 1 {
		expected = Heads
	}
	assert.Equal(t, expected, first)
}

func TestContract_RefundsTooMuch(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())

	err := ts.flip(t, "alice", "25.000 HIVE", `{"guess":"heads"}`)
	require.NoError(t, err)

	require.Equal(t, []entities.TransferRequest{
		{From: "beggars", To: "alice", Amount: "25.000 HIVE", Memo: MemoTooMuch},
	}, ts.broadcaster.transfers)

	flips, err := ts.events.Events(context.Background(), Name, FlipAction, nil)
	require.NoError(t, err)
	assert.Empty(t, flips)

	refund, err := ts.events.GetEvent(context.Background(), Name, testBlock.Operation(), RefundAction)
	require.NoError(t, err)
	assert.Equal(t, MemoTooMuch, refund.Data["reason"])
}

func TestContract_AcceptsCeiling(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())

	require.NoError(t, ts.flip(t, "alice", "20.000 HIVE", `{"guess":"heads"}`))
	require.Len(t, ts.broadcaster.transfers, 1)
	assert.NotEqual(t, MemoTooMuch, ts.broadcaster.transfers[0].Memo)
}

func TestContract_PolicyRefunds(t *testing.T) {
	testData := []struct {
		name    string
		amount  string
		payload string
		memo    string
	}{
		{name: "invalid currency", amount: "5.000 HBD", payload: `{"guess":"heads"}`, memo: MemoInvalidCurrency},
		{name: "invalid guess", amount: "5.000 HIVE", payload: `{"guess":"edge"}`, memo: MemoInvalidGuess},
		{name: "missing guess", amount: "5.000 HIVE", payload: `{}`, memo: MemoInvalidGuess},
		{name: "payload not an object", amount: "5.000 HIVE", payload: `"heads"`, memo: MemoInvalidGuess},
		{name: "currency checked first", amount: "50.000 HBD", payload: `{"guess":"edge"}`, memo: MemoInvalidCurrency},
	}

	for _, tt := range testData {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestSetup(t, DefaultConfig())

			require.NoError(t, ts.flip(t, "alice", tt.amount, tt.payload))
			require.Equal(t, []entities.TransferRequest{
				{From: "beggars", To: "alice", Amount: tt.amount, Memo: tt.memo},
			}, ts.broadcaster.transfers)

			flips, err := ts.events.Events(context.Background(), Name, FlipAction, nil)
			require.NoError(t, err)
			assert.Empty(t, flips)
		})
	}
}

func TestContract_UnverifiedTransferDropped(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())

	err := ts.contract.Actions()[FlipAction](context.Background(), contract.Call{
		Payload: json.RawMessage(`{"guess":"heads"}`),
		Sender:  "alice",
		Amount:  "5.000 HIVE",
	})
	require.NoError(t, err)
	assert.Empty(t, ts.broadcaster.transfers)

	found, err := ts.events.HasEvent(context.Background(), Name, testBlock.Operation())
	require.NoError(t, err)
	assert.False(t, found)

	// the transaction exists but sent a different amount
	ts.reader.onChain("alice", "1.000 HIVE")
	err = ts.contract.Actions()[FlipAction](context.Background(), contract.Call{
		Payload: json.RawMessage(`{"guess":"heads"}`),
		Sender:  "alice",
		Amount:  "5.000 HIVE",
	})
	require.NoError(t, err)
	assert.Empty(t, ts.broadcaster.transfers)
}

func TestContract_Win(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())
	roll := Outcome(testBlock, knownSeed, "")

	require.NoError(t, ts.flip(t, "alice", "5.000 HIVE", fmt.Sprintf(`{"guess":"%s"}`, roll)))

	expectedMemo := fmt.Sprintf("[Winner] | Guess: %s | Server Roll: %s | Previous block id: abc | BlockID: def | Trx ID: T1 | Server Seed: %s", roll, roll, knownSeed)
	require.Equal(t, []entities.TransferRequest{
		{From: "beggars", To: "alice", Amount: "10.000 HIVE", Memo: expectedMemo},
	}, ts.broadcaster.transfers)

	event, err := ts.events.GetEvent(context.Background(), Name, testBlock.Operation(), FlipAction)
	require.NoError(t, err)
	assert.Equal(t, "true", event.Data["userWon"])
	assert.Equal(t, knownSeed, event.Data["serverSeed"])
	assert.Equal(t, roll, event.Data["serverRoll"])
	assert.Equal(t, "5.000 HIVE", event.Data["stake"])
}

func TestContract_WinFee(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WinFee = 1
	ts := newTestSetup(t, cfg)
	roll := Outcome(testBlock, knownSeed, "")

	require.NoError(t, ts.flip(t, "alice", "5.000 HIVE", fmt.Sprintf(`{"guess":"%s"}`, roll)))
	require.Len(t, ts.broadcaster.transfers, 1)
	assert.Equal(t, "9.999 HIVE", ts.broadcaster.transfers[0].Amount)
}

func TestContract_Loss(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())
	roll := Outcome(testBlock, knownSeed, "")
	guess := opposite(roll)

	require.NoError(t, ts.flip(t, "alice", "5.000 HIVE", fmt.Sprintf(`{"guess":"%s"}`, guess)))

	expectedMemo := fmt.Sprintf("[Lost] | Guess: %s | Server Roll: %s | Previous block id: abc | BlockID: def | Trx ID: T1 | Server Seed: %s", guess, roll, knownSeed)
	require.Equal(t, []entities.TransferRequest{
		{From: "beggars", To: "alice", Amount: "0.001 HIVE", Memo: expectedMemo},
	}, ts.broadcaster.transfers)

	event, err := ts.events.GetEvent(context.Background(), Name, testBlock.Operation(), FlipAction)
	require.NoError(t, err)
	assert.Equal(t, "false", event.Data["userWon"])
}

func TestContract_ClientSeedChangesOutcomeInput(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())
	roll := Outcome(testBlock, knownSeed, "lucky")

	require.NoError(t, ts.flip(t, "alice", "5.000 HIVE", fmt.Sprintf(`{"guess":"%s","seed":"lucky"}`, roll)))
	require.Len(t, ts.broadcaster.transfers, 1)
	assert.Equal(t, "10.000 HIVE", ts.broadcaster.transfers[0].Amount)

	event, err := ts.events.GetEvent(context.Background(), Name, testBlock.Operation(), FlipAction)
	require.NoError(t, err)
	assert.Equal(t, "lucky", event.Data["clientSeed"])
}

func TestContract_ProcessedTwicePaysOnce(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())

	require.NoError(t, ts.flip(t, "alice", "5.000 HIVE", `{"guess":"heads"}`))
	require.NoError(t, ts.flip(t, "alice", "5.000 HIVE", `{"guess":"heads"}`))
	assert.Len(t, ts.broadcaster.transfers, 1)

	require.NoError(t, ts.flip(t, "alice", "25.000 HIVE", `{"guess":"heads"}`))
	assert.Len(t, ts.broadcaster.transfers, 1)
}

func TestContract_TwoFlipsInOneTransaction(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())
	ts.reader.transactions = map[string]entities.Transaction{
		"T1": {ID: "T1", Operations: []entities.Operation{
			entities.TransferOperation{From: "alice", To: "beggars", Amount: "5.000 HIVE"},
			entities.TransferOperation{From: "alice", To: "beggars", Amount: "7.000 HIVE"},
		}},
	}
	second := testBlock
	second.OperationIndex = 1

	flipAt := func(bc entities.BlockContext, amount string) error {
		ts.contract.UpdateBlockContext(bc)
		return ts.contract.Actions()[FlipAction](context.Background(), contract.Call{
			Payload: json.RawMessage(`{"guess":"heads"}`),
			Sender:  "alice",
			Amount:  amount,
		})
	}

	require.NoError(t, flipAt(testBlock, "5.000 HIVE"))
	require.NoError(t, flipAt(second, "7.000 HIVE"))
	require.Len(t, ts.broadcaster.transfers, 2)

	for i, bc := range []entities.BlockContext{testBlock, second} {
		event, err := ts.events.GetEvent(context.Background(), Name, bc.Operation(), FlipAction)
		require.NoError(t, err)
		assert.Equal(t, []string{"5.000 HIVE", "7.000 HIVE"}[i], event.Data["stake"])
		assert.Equal(t, event.Data["memo"], ts.broadcaster.transfers[i].Memo)
	}

	// the block is processed again
	require.NoError(t, flipAt(testBlock, "5.000 HIVE"))
	require.NoError(t, flipAt(second, "7.000 HIVE"))
	assert.Len(t, ts.broadcaster.transfers, 2)
}

func TestContract_FailedPayoutIsRetried(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())
	ts.broadcaster.shouldError = true

	err := ts.flip(t, "alice", "5.000 HIVE", `{"guess":"heads"}`)
	require.ErrorIs(t, err, ErrMock)
	assert.Empty(t, ts.broadcaster.transfers)

	flip, err := ts.events.GetEvent(context.Background(), Name, testBlock.Operation(), FlipAction)
	require.NoError(t, err)

	ts.broadcaster.shouldError = false
	require.NoError(t, ts.flip(t, "alice", "5.000 HIVE", `{"guess":"heads"}`))
	require.Len(t, ts.broadcaster.transfers, 1)
	assert.Equal(t, flip.Data["memo"], ts.broadcaster.transfers[0].Memo)

	require.NoError(t, ts.flip(t, "alice", "5.000 HIVE", `{"guess":"heads"}`))
	assert.Len(t, ts.broadcaster.transfers, 1)
}

func TestContract_IgnoresCustomJSON(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())

	err := ts.contract.Actions()[FlipAction](context.Background(), contract.Call{
		Payload:             json.RawMessage(`{"guess":"heads"}`),
		Sender:              "alice",
		SignedWithActiveKey: true,
		OperationID:         "hivestream",
	})
	require.NoError(t, err)
	assert.Empty(t, ts.broadcaster.transfers)
}

func TestContract_Create(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAmount = 0
	c := NewContract(cfg, &MockReader{}, nil, &MockBroadcaster{}, fairness.NewEngine(), zap.NewNop().Sugar())
	require.Error(t, c.Create(context.Background()))

	cfg = DefaultConfig()
	cfg.Account = ""
	c = NewContract(cfg, &MockReader{}, nil, &MockBroadcaster{}, fairness.NewEngine(), zap.NewNop().Sugar())
	require.Error(t, c.Create(context.Background()))
}

func TestContract_ThroughDispatcher(t *testing.T) {
	ts := newTestSetup(t, DefaultConfig())
	ts.reader.onChain("alice", "5.000 HIVE")

	registry := contract.NewRegistry()
	require.NoError(t, registry.Register(context.Background(), Name, ts.contract))
	dispatcher := dispatch.NewDispatcher(registry, zap.NewNop().Sugar())

	op := entities.TransferOperation{
		From:   "alice",
		To:     "beggars",
		Amount: "5.000 HIVE",
		Memo:   `{"hiveContract":{"name":"coinflip","action":"flip","payload":{"guess":"tails"}}}`,
	}
	meta := entities.OperationMeta{BlockNumber: 1000, BlockID: "def", PreviousBlockID: "abc", TransactionID: "T1"}
	require.NoError(t, dispatcher.Process(context.Background(), op, meta))

	require.Len(t, ts.broadcaster.transfers, 1)
	assert.Contains(t, ts.broadcaster.transfers[0].Memo, "Guess: tails | Server Roll: "+Outcome(testBlock, knownSeed, ""))
}
