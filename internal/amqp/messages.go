package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"loonie/internal/core"
)

// StatementBatchMessage carries one parsed statement batch to the import
// worker. Amounts travel as decimal strings exactly as parsed upstream; the
// worker converts to cents so rounding happens in one place.
type StatementBatchMessage struct {
	BatchID        string               `json:"batch_id"`
	InternalUserID int64                `json:"internal_user_id"`
	Transactions   []TransactionPayload `json:"transactions"`
	Timestamp      time.Time            `json:"timestamp"`
}

// TransactionPayload is the wire form of one statement line.
type TransactionPayload struct {
	Date        string `json:"date"`
	Description string `json:"description,omitempty"`
	Merchant    string `json:"merchant,omitempty"`
	Amount      string `json:"amount"`
	Direction   string `json:"direction"`
	Account     string `json:"account,omitempty"`
}

// NewStatementBatchMessage creates a batch message with a fresh batch id.
func NewStatementBatchMessage(internalUserID int64, txs []TransactionPayload) *StatementBatchMessage {
	return &StatementBatchMessage{
		BatchID:        uuid.NewString(),
		InternalUserID: internalUserID,
		Transactions:   txs,
		Timestamp:      time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *StatementBatchMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON creates a message from JSON bytes
func StatementBatchMessageFromJSON(data []byte) (*StatementBatchMessage, error) {
	var msg StatementBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks batch-level fields before the payload is handed to the
// import pipeline. Per-transaction problems surface later as error counts.
func (m *StatementBatchMessage) Validate() error {
	if m.BatchID == "" {
		return &core.ValidationError{Field: "batch_id", Reason: "must not be empty"}
	}
	if m.InternalUserID <= 0 {
		return &core.ValidationError{Field: "internal_user_id", Reason: "must be positive"}
	}
	if len(m.Transactions) == 0 {
		return &core.ValidationError{Field: "transactions", Reason: "batch is empty"}
	}
	return nil
}

// ToDomain converts the wire payload into domain transactions. A payload
// that cannot be converted yields a zero RawTransaction in its slot, which
// the pipeline's own validation then counts as an error; the batch is never
// rejected wholesale for one bad line.
func (p TransactionPayload) ToDomain() (core.RawTransaction, error) {
	date, err := core.ParseDate(p.Date)
	if err != nil {
		return core.RawTransaction{}, fmt.Errorf("date %q: %w", p.Date, err)
	}
	cents, err := core.ParseDecimalToCents(p.Amount)
	if err != nil {
		return core.RawTransaction{}, fmt.Errorf("amount %q: %w", p.Amount, err)
	}
	return core.RawTransaction{
		Date:        date,
		Description: p.Description,
		Merchant:    p.Merchant,
		Amount:      core.Money{Cents: cents},
		Direction:   core.Direction(p.Direction),
		Account:     p.Account,
	}, nil
}
