package onramp

import (
	"math/rand"
	"sync"
	"time"
)

const (
	idChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// IDLength is the length of a correlation id.
	IDLength = 16
)

var (
	idMu   sync.Mutex
	idRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewID generates a random correlation id of IDLength alphanumeric characters.
func NewID() string {
	b := make([]byte, IDLength)
	idMu.Lock()
	for i := range b {
		b[i] = idChars[idRand.Intn(len(idChars))]
	}
	idMu.Unlock()
	return string(b)
}

func boolPtr(b bool) *bool {
	return &b
}
