package events

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event types published after a ledger operation commits.
const (
	TypeTransactionCreated = "transaction.created"
	TypeTransactionUpdated = "transaction.updated"
	TypeTransactionDeleted = "transaction.deleted"
)

// LedgerEvent describes one committed balance change. For updates the
// Previous fields carry the reversed side.
type LedgerEvent struct {
	Type              string           `json:"type"`
	UserID            int64            `json:"user_id"`
	TransactionID     int64            `json:"transaction_id"`
	AccountID         int64            `json:"account_id"`
	Delta             decimal.Decimal  `json:"delta"`
	PreviousAccountID int64            `json:"previous_account_id,omitempty"`
	PreviousDelta     *decimal.Decimal `json:"previous_delta,omitempty"`
	RequestID         string           `json:"request_id,omitempty"`
	OccurredAt        time.Time        `json:"occurred_at"`
}

// ToJSON converts the event to JSON bytes
func (e LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON decodes an event published by a Publisher.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var evt LedgerEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}
