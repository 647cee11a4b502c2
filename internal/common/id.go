package common

import (
	"github.com/google/uuid"
)

// NewPassID generates a unique indexing pass ID with the "pass_" prefix.
// Format: pass_<uuid>. The ID correlates log lines across the jobs of one
// scheduling pass.
func NewPassID() string {
	return "pass_" + uuid.New().String()
}
