package broker

import (
	"crypto/rand"
	"fmt"
)

const secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const secretLength = 32

// generateSecret produces a cryptographically random alphanumeric string
// the agent hands to the broker on ready/unmanaged_ready, then enforces on
// every inbound /actor/<secret>/... route.
func generateSecret() (string, error) {
	buf := make([]byte, secretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("broker: generate secret: %w", err)
	}
	out := make([]byte, secretLength)
	for i, b := range buf {
		out[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(out), nil
}
