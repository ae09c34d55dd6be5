package checkpoint

import "github.com/google/uuid"

func newCheckpointID() string {
	return uuid.New().String()
}
