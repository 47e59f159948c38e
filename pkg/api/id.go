package api

import (
	"crypto/rand"
	"math/big"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	subscriberIDPrefix = "sub_"
	taskIDPrefix       = "task_"
)

// NewSubscriberID generates a new subscriber ID with the "sub_" prefix
// followed by 24 cryptographically random alphanumeric characters. One is
// generated per accepted SSE connection.
func NewSubscriberID() string {
	return subscriberIDPrefix + randomAlphanumeric(idLength)
}

// NewTaskID generates a new task ID with the "task_" prefix followed by
// 24 cryptographically random alphanumeric characters. One is generated
// per tracked request-handling task.
func NewTaskID() string {
	return taskIDPrefix + randomAlphanumeric(idLength)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
