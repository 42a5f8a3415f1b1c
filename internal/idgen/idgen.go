// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// EventPrefix is prepended to every generated event ID.
var EventPrefix = "evt-"

// ConnPrefix is prepended to connection IDs.
var ConnPrefix = "conn-"

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// Event returns a new unique event ID.
func Event() (string, error) {
	return WithPrefix(EventPrefix)
}

// Conn returns a new unique connection ID.
func Conn() (string, error) {
	return WithPrefix(ConnPrefix)
}

// WithPrefix returns a new unique ID with the given prefix.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
