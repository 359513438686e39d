package types

import (
	"encoding/hex"
	"math/big"
)

// Event represents a typed event emitted during settlement state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// HexAddress renders a 20-byte address as 0x-prefixed lowercase hex for event
// attributes.
func HexAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

// BigIntString renders an amount attribute, treating nil as zero.
func BigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
