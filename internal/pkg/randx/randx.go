/*
Package randx provides functions for generating cryptographically secure random identifiers.

It generates UUID message ids and short Base62 connection handles.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// HandlePrefix marks server-issued connection handles.
	HandlePrefix = "conn_"

	// HandleRawLength is the length of the Base62 part of a connection handle.
	HandleRawLength = 12
)

// Base62 returns n cryptographically random Base62 characters.
func Base62(n int) (string, error) {
	result := make([]byte, n)

	for i := range n {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}
		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// ConnectionHandle generates an opaque handle identifying one websocket connection.
func ConnectionHandle() (string, error) {
	raw, err := Base62(HandleRawLength)
	if err != nil {
		return "", err
	}
	return HandlePrefix + raw, nil
}

// IsValidConnectionHandle reports whether s has the shape produced by ConnectionHandle.
func IsValidConnectionHandle(s string) bool {
	if !strings.HasPrefix(s, HandlePrefix) {
		return false
	}

	raw := s[len(HandlePrefix):]
	if len(raw) != HandleRawLength {
		return false
	}

	for _, char := range raw {
		if !strings.ContainsRune(Base62Chars, char) {
			return false
		}
	}

	return true
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}
