package session

import (
	"fmt"

	"github.com/google/uuid"
)

// NewID generates an unguessable session id. UUIDv4 carries 122 bits of
// random entropy, so collisions over the store's realistic population
// are negligible.
func NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}
	return id.String(), nil
}
