package entities

import (
	"encoding/json"
	"time"
)

// ContractEvent is the audit record a contract writes before moving funds.
type ContractEvent struct {
	Date           time.Time         `json:"date"`
	Contract       string            `json:"contract"`
	Action         string            `json:"action"`
	TransactionID  string            `json:"transactionId"`
	OperationIndex int               `json:"operationIndex"`
	BlockNumber    uint64            `json:"blockNumber"`
	Payload        json.RawMessage   `json:"payload,omitempty"`
	Data           map[string]string `json:"data"`
}

func (e ContractEvent) Operation() OperationRef {
	return OperationRef{TransactionID: e.TransactionID, OperationIndex: e.OperationIndex}
}

type TransferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
	Memo   string `json:"memo"`
}

// VoteRequest weight is in basis points, negative for downvotes.
type VoteRequest struct {
	Voter    string `json:"voter"`
	Author   string `json:"author"`
	Permlink string `json:"permlink"`
	Weight   int    `json:"weight"`
}
