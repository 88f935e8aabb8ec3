package transition

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"

	"VAMMLedger/internal/state"
	"VAMMLedger/internal/types"
)

// MaxInstructions bounds a single batch.
const MaxInstructions = 64

// Instruction is one typed request. Params holds a pointer to the struct
// registered for Kind.
type Instruction struct {
	Kind   Kind
	Params any
}

type instructionJSON struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

func (in Instruction) MarshalJSON() ([]byte, error) {
	params, err := json.Marshal(in.Params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", in.Kind, err)
	}
	return json.Marshal(instructionJSON{Type: in.Kind.String(), Params: params})
}

// UnmarshalJSON decodes params strictly: unknown fields are rejected.
func (in *Instruction) UnmarshalJSON(data []byte) error {
	var raw instructionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return errorsmod.Wrapf(types.ErrInvalidParameter, "instruction: %v", err)
	}
	kind, err := ParseKind(raw.Type)
	if err != nil {
		return err
	}
	params := kinds[kind].params()
	if len(raw.Params) > 0 && !bytes.Equal(raw.Params, []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw.Params))
		dec.DisallowUnknownFields()
		if err := dec.Decode(params); err != nil {
			return errorsmod.Wrapf(types.ErrInvalidParameter, "%s params: %v", kind, err)
		}
	}
	in.Kind = kind
	in.Params = params
	return nil
}

// New builds an instruction, checking params is the registered type.
func New(kind Kind, params any) (Instruction, error) {
	info, ok := kinds[kind]
	if !ok {
		return Instruction{}, errorsmod.Wrapf(types.ErrUnknownInstruction, "kind %d", uint8(kind))
	}
	if want := reflect.TypeOf(info.params()); reflect.TypeOf(params) != want {
		return Instruction{}, errorsmod.Wrapf(types.ErrInvalidParameter, "%s takes %s, got %T", kind, want, params)
	}
	return Instruction{Kind: kind, Params: params}, nil
}

// MustNew is New for tests and fixtures.
func MustNew(kind Kind, params any) Instruction {
	in, err := New(kind, params)
	if err != nil {
		panic(err)
	}
	return in
}

// Batch is an ordered list of instructions from one signer, applied
// atomically at one clock.
type Batch struct {
	BatchID      uuid.UUID     `json:"batch_id"`
	Signer       uuid.UUID     `json:"signer"`
	Clock        state.Clock   `json:"clock"`
	Instructions []Instruction `json:"instructions"`
}

// Parse decodes and validates a wire batch.
func Parse(data []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		if types.Code(err) != types.CodeUnregistered {
			return nil, err
		}
		return nil, errorsmod.Wrapf(types.ErrInvalidParameter, "batch: %v", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Marshal encodes the batch in wire form.
func (b *Batch) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// Validate checks the envelope. Instruction semantics are checked when the
// batch is applied.
func (b *Batch) Validate() error {
	if b.BatchID == uuid.Nil {
		return errorsmod.Wrap(types.ErrInvalidParameter, "batch_id must be set")
	}
	if b.Signer == uuid.Nil {
		return errorsmod.Wrap(types.ErrInvalidParameter, "signer must be set")
	}
	if len(b.Instructions) == 0 {
		return errorsmod.Wrap(types.ErrInvalidParameter, "batch has no instructions")
	}
	if len(b.Instructions) > MaxInstructions {
		return errorsmod.Wrapf(types.ErrInvalidParameter, "batch has %d instructions, max %d", len(b.Instructions), MaxInstructions)
	}
	for i, in := range b.Instructions {
		if _, ok := kinds[in.Kind]; !ok {
			return errorsmod.Wrapf(types.ErrUnknownInstruction, "instruction %d", i)
		}
		if in.Params == nil {
			return errorsmod.Wrapf(types.ErrInvalidParameter, "instruction %d (%s) has no params", i, in.Kind)
		}
	}
	return nil
}

// Category returns the single category shared by every instruction, or an
// error for a mixed batch.
func (b *Batch) Category() (Category, error) {
	if len(b.Instructions) == 0 {
		return 0, errorsmod.Wrap(types.ErrInvalidParameter, "batch has no instructions")
	}
	c := b.Instructions[0].Kind.Category()
	for i, in := range b.Instructions[1:] {
		if in.Kind.Category() != c {
			return 0, errorsmod.Wrapf(types.ErrInvalidParameter,
				"instruction %d is %s, batch is %s", i+1, in.Kind.Category(), c)
		}
	}
	return c, nil
}

// IdempotencyKey is the dedup key of the batch.
func (b *Batch) IdempotencyKey() string {
	return b.BatchID.String()
}
