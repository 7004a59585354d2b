// Package token generates opaque URL-safe capability tokens. Share tokens
// gate public session pages; cancellation tokens gate unauthenticated
// self-service cancellation of a single registration.
package token

import (
	"crypto/rand"
	"fmt"
)

const (
	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

	// ShareTokenLength is the fixed length of session share tokens
	ShareTokenLength = 21

	// CancelTokenLength is the length of registration cancellation tokens
	CancelTokenLength = 32
)

// New returns a random token of the given length over the URL-safe alphabet
func New(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	// 64-character alphabet, so masking the low 6 bits keeps the
	// distribution uniform.
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphabet[b&63]
	}
	return string(out), nil
}

// NewShareToken returns a random session share token
func NewShareToken() (string, error) {
	return New(ShareTokenLength)
}

// NewCancelToken returns a random registration cancellation token
func NewCancelToken() (string, error) {
	return New(CancelTokenLength)
}
