package lifecycle

import (
	"fmt"

	"github.com/google/uuid"
)

const recordIDPrefix = "autopay-"

// IDIssuer mints record IDs. IDs must be globally unique and never reused.
type IDIssuer interface {
	NewRecordID() (string, error)
}

// UUIDIssuer issues time-ordered "autopay-<uuidv7>" IDs.
type UUIDIssuer struct{}

func (UUIDIssuer) NewRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return recordIDPrefix + id.String(), nil
}
