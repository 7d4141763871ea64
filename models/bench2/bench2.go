// Package bench2 holds a generic echo model used to exercise payload
// encoding through the simulation server.
package bench2

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/inference-sim/simbench/sim"
)

// Variant is one alternative of TestLoad or TestSubload.
type Variant interface {
	variantName() string
}

// VarA is a unit variant, encoded as the bare string "VarA".
type VarA struct{}

// VarB is a struct variant without fields.
type VarB struct{}

// VarC is a newtype variant holding an integer.
type VarC int64

// VarD is a tuple variant of a string and a float.
type VarD struct {
	_ struct{} `cbor:",toarray"`
	S string
	F float64
}

// VarE is a struct variant.
type VarE struct {
	X string `cbor:"x"`
	Y bool   `cbor:"y"`
}

// VarF is a newtype variant wrapping a TestSubload. Only valid in TestLoad.
type VarF struct {
	Sub TestSubload
}

// VarG is a struct variant with a nested TestSubload. Only valid in TestLoad.
type VarG struct {
	X int64       `cbor:"x"`
	Y TestSubload `cbor:"y"`
}

func (VarA) variantName() string { return "VarA" }
func (VarB) variantName() string { return "VarB" }
func (VarC) variantName() string { return "VarC" }
func (VarD) variantName() string { return "VarD" }
func (VarE) variantName() string { return "VarE" }
func (VarF) variantName() string { return "VarF" }
func (VarG) variantName() string { return "VarG" }

func (v VarF) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(v.Sub)
}

func (v *VarF) UnmarshalCBOR(data []byte) error {
	return cbor.Unmarshal(data, &v.Sub)
}

// TestLoad is an externally tagged union over VarA through VarG. The zero
// value holds no variant and encodes as null.
type TestLoad struct {
	Variant Variant
}

// TestSubload is an externally tagged union over VarA through VarE.
type TestSubload struct {
	Variant Variant
}

var (
	cborNull      = []byte{0xf6}
	cborUndefined = []byte{0xf7}
)

var errUnknownVariant = errors.New("unknown variant")

func (l TestLoad) MarshalCBOR() ([]byte, error) {
	return marshalVariant(l.Variant)
}

func (l *TestLoad) UnmarshalCBOR(data []byte) error {
	v, err := unmarshalVariant(data, true)
	if err != nil {
		return fmt.Errorf("TestLoad: %w", err)
	}
	l.Variant = v
	return nil
}

func (l TestSubload) MarshalCBOR() ([]byte, error) {
	switch l.Variant.(type) {
	case VarF, VarG:
		return nil, fmt.Errorf("TestSubload: %w %s", errUnknownVariant, l.Variant.variantName())
	}
	return marshalVariant(l.Variant)
}

func (l *TestSubload) UnmarshalCBOR(data []byte) error {
	v, err := unmarshalVariant(data, false)
	if err != nil {
		return fmt.Errorf("TestSubload: %w", err)
	}
	l.Variant = v
	return nil
}

func marshalVariant(v Variant) ([]byte, error) {
	switch v.(type) {
	case nil:
		return cborNull, nil
	case VarA:
		return cbor.Marshal(v.variantName())
	}
	return cbor.Marshal(map[string]any{v.variantName(): v})
}

func unmarshalVariant(data []byte, nested bool) (Variant, error) {
	if bytes.Equal(data, cborNull) || bytes.Equal(data, cborUndefined) {
		return nil, nil
	}
	var unit string
	if err := cbor.Unmarshal(data, &unit); err == nil {
		if unit == "VarA" {
			return VarA{}, nil
		}
		return nil, fmt.Errorf("%w %q", errUnknownVariant, unit)
	}
	var tagged map[string]cbor.RawMessage
	if err := cbor.Unmarshal(data, &tagged); err != nil {
		return nil, err
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("expected exactly one variant, got %d", len(tagged))
	}
	for name, raw := range tagged {
		return decodeVariant(name, raw, nested)
	}
	panic("unreachable")
}

func decodeVariant(name string, raw cbor.RawMessage, nested bool) (Variant, error) {
	switch name {
	case "VarB":
		return decodeAs[VarB](raw)
	case "VarC":
		return decodeAs[VarC](raw)
	case "VarD":
		return decodeAs[VarD](raw)
	case "VarE":
		return decodeAs[VarE](raw)
	case "VarF":
		if nested {
			return decodeAs[VarF](raw)
		}
	case "VarG":
		if nested {
			return decodeAs[VarG](raw)
		}
	}
	return nil, fmt.Errorf("%w %q", errUnknownVariant, name)
}

func decodeAs[V Variant](raw cbor.RawMessage) (Variant, error) {
	var v V
	if err := cbor.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// MyModel echoes every load it receives.
type MyModel struct {
	Output sim.Output[TestLoad]
}

// MyInput forwards load to Output.
func (m *MyModel) MyInput(_ *sim.Context, load TestLoad) {
	m.Output.Send(load)
}
