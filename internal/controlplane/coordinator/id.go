package coordinator

import "github.com/google/uuid"

func newExecutionID() string {
	return uuid.New().String()
}

func newStreamID() string {
	return uuid.New().String()
}
