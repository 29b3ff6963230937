package entities

import (
	"fmt"
	"time"
)

type Block struct {
	Number       uint64
	ID           string
	PreviousID   string
	Timestamp    time.Time
	Transactions []Transaction
}

type Transaction struct {
	ID         string
	Operations []Operation
}

// Operation is one of TransferOperation, CustomJSONOperation, CommentOperation or UnsupportedOperation.
type Operation interface {
	OperationType() string
}

type TransferOperation struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Memo   string `json:"memo"`
}

func (TransferOperation) OperationType() string { return "transfer" }

type CustomJSONOperation struct {
	ID                   string   `json:"id"`
	RequiredAuths        []string `json:"required_auths"`
	RequiredPostingAuths []string `json:"required_posting_auths"`
	JSON                 string   `json:"json"`
}

func (CustomJSONOperation) OperationType() string { return "custom_json" }

type CommentOperation struct {
	ParentAuthor   string `json:"parent_author"`
	ParentPermlink string `json:"parent_permlink"`
	Author         string `json:"author"`
	Permlink       string `json:"permlink"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

func (CommentOperation) OperationType() string { return "comment" }

// IsPost is true for top level comments.
func (c CommentOperation) IsPost() bool {
	return c.ParentAuthor == ""
}

// UnsupportedOperation stands in for every ledger operation the streamer does not route.
type UnsupportedOperation struct {
	Type string
}

func (u UnsupportedOperation) OperationType() string { return u.Type }

// OperationRef identifies one operation of a transaction. A transaction can carry several
// transfers to the same contract, each one is a separate invocation.
type OperationRef struct {
	TransactionID  string
	OperationIndex int
}

func (r OperationRef) String() string {
	return fmt.Sprintf("%s/%d", r.TransactionID, r.OperationIndex)
}

// OperationMeta is the position in chain of the operation being dispatched.
type OperationMeta struct {
	BlockNumber     uint64
	BlockID         string
	PreviousBlockID string
	TransactionID   string
	OperationIndex  int
	BlockTime       time.Time
}

// BlockContext is handed to a contract right before one of its actions is invoked.
type BlockContext struct {
	BlockNumber     uint64
	BlockID         string
	PreviousBlockID string
	TransactionID   string
	OperationIndex  int
}

func (m OperationMeta) BlockContext() BlockContext {
	return BlockContext{
		BlockNumber:     m.BlockNumber,
		BlockID:         m.BlockID,
		PreviousBlockID: m.PreviousBlockID,
		TransactionID:   m.TransactionID,
		OperationIndex:  m.OperationIndex,
	}
}

func (bc BlockContext) Operation() OperationRef {
	return OperationRef{TransactionID: bc.TransactionID, OperationIndex: bc.OperationIndex}
}

type GlobalProperties struct {
	HeadBlockNumber         uint64
	LastIrreversibleBlockNr uint64
	Time                    time.Time
}

type Account struct {
	Name    string
	Balance Asset
}
