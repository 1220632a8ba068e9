package amqp

import (
	"encoding/json"
	"errors"
	"time"

	"fintrack/internal/core"
)

// TransactionMaterializedMessage announces a transaction created from a recurring
// definition. It carries identifiers only; consumers load the row from storage.
type TransactionMaterializedMessage struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	RecurringID   string    `json:"recurring_id,omitempty"`
	Date          string    `json:"date"`
	Timestamp     time.Time `json:"timestamp"`
}

var errMissingTransactionID = errors.New("message has no transaction_id")

func NewTransactionMaterializedMessage(tx core.Transaction) *TransactionMaterializedMessage {
	msg := &TransactionMaterializedMessage{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Date:          tx.Date.String(),
		Timestamp:     time.Now(),
	}
	if tx.RecurringID != nil {
		msg.RecurringID = *tx.RecurringID
	}
	return msg
}

// ToJSON converts the message to JSON bytes
func (m *TransactionMaterializedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// TransactionMaterializedMessageFromJSON decodes a message and rejects ones
// that cannot be acted on.
func TransactionMaterializedMessageFromJSON(data []byte) (*TransactionMaterializedMessage, error) {
	var msg TransactionMaterializedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.TransactionID == "" {
		return nil, errMissingTransactionID
	}
	return &msg, nil
}
