// Package util provides utility functions shared across the wastebot application.
package util

import (
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

// GenerateVerificationCode generates a fixed-length numeric handshake code.
// Leading zeros are permitted. Uses math/rand; the code is a short-lived
// shared secret with no reuse requirement beyond the current active code.
func GenerateVerificationCode(length int) string {
	if length <= 0 {
		return ""
	}

	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte('0' + byte(rand.Intn(10)))
	}

	return builder.String()
}

// GenerateRequestID generates a unique pickup request id.
func GenerateRequestID() string {
	return uuid.NewString()
}

// GenerateTransactionID generates a unique recycling transaction id.
func GenerateTransactionID() string {
	return uuid.NewString()
}
