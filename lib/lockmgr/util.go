package lockmgr

import (
	"github.com/google/uuid"
)

// generateOwnerID creates a new unique owner ID (random version 4 uuid)
func generateOwnerID() string {
	return uuid.NewString()
}
