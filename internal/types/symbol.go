package types

import (
	"bytes"
	"fmt"
)

// Symbol is a fixed 32-byte name (mint, oracle key). Fixed width keeps
// records fixed-layout.
type Symbol [32]byte

// NewSymbol builds a Symbol from s. Names longer than 32 bytes are rejected.
func NewSymbol(s string) (Symbol, error) {
	var sym Symbol
	if len(s) == 0 || len(s) > len(sym) {
		return sym, fmt.Errorf("symbol %q must be 1..%d bytes", s, len(sym))
	}
	copy(sym[:], s)
	return sym, nil
}

// MustSymbol is NewSymbol for literals.
func MustSymbol(s string) Symbol {
	sym, err := NewSymbol(s)
	if err != nil {
		panic(err)
	}
	return sym
}

func (s Symbol) String() string {
	return string(bytes.TrimRight(s[:], "\x00"))
}

func (s Symbol) IsZero() bool { return s == Symbol{} }

func (s Symbol) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts "" as the zero symbol so unset fields round-trip.
func (s *Symbol) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = Symbol{}
		return nil
	}
	v, err := NewSymbol(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
