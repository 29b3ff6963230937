package contract

import (
	"context"
	"encoding/json"

	"github.com/qubic/hive-streamer/entities"
)

// Call carries the arguments of one contract action invocation.
// Amount is set for transfers, SignedWithActiveKey and OperationID for custom json operations.
type Call struct {
	Payload             json.RawMessage
	Sender              string
	Amount              string
	SignedWithActiveKey bool
	OperationID         string
}

// IsTransfer is true when the call was triggered by a transfer memo.
func (c Call) IsTransfer() bool {
	return c.Amount != ""
}

type Action func(ctx context.Context, call Call) error

// Handler is a registered contract. Actions maps the action names of the hiveContract envelope
// to their implementation; unknown actions are ignored.
type Handler interface {
	Actions() map[string]Action
}

type Creator interface {
	Create(ctx context.Context) error
}

type Destroyer interface {
	Destroy(ctx context.Context) error
}

// BlockContextUpdater receives the position of the operation right before an action is invoked.
type BlockContextUpdater interface {
	UpdateBlockContext(bc entities.BlockContext)
}
