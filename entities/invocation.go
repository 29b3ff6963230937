package entities

import (
	"encoding/json"
	"strings"
)

// ContractInvocation is the hiveContract envelope carried by a transfer memo or a custom json payload.
type ContractInvocation struct {
	Name    string          `json:"name"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

type invocationEnvelope struct {
	HiveContract *ContractInvocation `json:"hiveContract"`
}

// TryParseInvocation extracts the contract invocation from raw. Anything that is not a json object
// carrying a hiveContract with a name is ordinary traffic and reported as not ok.
func TryParseInvocation(raw string) (ContractInvocation, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return ContractInvocation{}, false
	}

	var envelope invocationEnvelope
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return ContractInvocation{}, false
	}
	if envelope.HiveContract == nil || envelope.HiveContract.Name == "" {
		return ContractInvocation{}, false
	}

	invocation := *envelope.HiveContract
	if len(invocation.Payload) == 0 || string(invocation.Payload) == "null" {
		invocation.Payload = json.RawMessage("{}")
	}
	return invocation, true
}
