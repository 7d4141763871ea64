package bench2

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/simbench/sim"
)

func TestTestLoad_EncodesExternallyTagged(t *testing.T) {
	tests := []struct {
		name string
		load TestLoad
		want any
	}{
		{name: "unit variant is a bare string", load: TestLoad{VarA{}}, want: "VarA"},
		{name: "newtype variant", load: TestLoad{VarC(7)}, want: map[string]any{"VarC": uint64(7)}},
		{name: "tuple variant", load: TestLoad{VarD{S: "s", F: 1.5}}, want: map[string]any{"VarD": []any{"s", 1.5}}},
		{name: "struct variant", load: TestLoad{VarE{X: "x", Y: true}}, want: map[string]any{"VarE": struct {
			X string `cbor:"x"`
			Y bool   `cbor:"y"`
		}{"x", true}}},
		{name: "nested newtype", load: TestLoad{VarF{Sub: TestSubload{VarA{}}}}, want: map[string]any{"VarF": "VarA"}},
		{name: "empty load is null", load: TestLoad{}, want: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := cbor.Marshal(tc.load)
			require.NoError(t, err)
			want, err := cbor.Marshal(tc.want)
			require.NoError(t, err)
			assert.Equal(t, want, data)
		})
	}
}

func TestTestLoad_RoundTrip(t *testing.T) {
	loads := []TestLoad{
		{VarA{}},
		{VarB{}},
		{VarC(-3)},
		{VarD{S: "hello", F: 0.25}},
		{VarE{X: "x", Y: true}},
		{VarF{Sub: TestSubload{VarC(4)}}},
		{VarG{X: 9, Y: TestSubload{VarE{X: "inner"}}}},
		{},
	}
	for _, load := range loads {
		data, err := cbor.Marshal(load)
		require.NoError(t, err)
		var got TestLoad
		require.NoError(t, cbor.Unmarshal(data, &got))
		assert.Equal(t, load, got)
	}
}

func TestTestSubload_RejectsNestedVariants(t *testing.T) {
	_, err := cbor.Marshal(TestSubload{VarF{}})
	assert.ErrorIs(t, err, errUnknownVariant)

	data, err := cbor.Marshal(TestLoad{VarG{X: 1, Y: TestSubload{VarA{}}}})
	require.NoError(t, err)
	var sub TestSubload
	assert.ErrorIs(t, cbor.Unmarshal(data, &sub), errUnknownVariant)
}

func TestTestLoad_RejectsMalformedInput(t *testing.T) {
	for name, v := range map[string]any{
		"unknown unit":    "VarZ",
		"unknown tag":     map[string]any{"VarZ": 1},
		"two tags":        map[string]any{"VarB": map[string]any{}, "VarC": 1},
		"not a variant":   42,
		"wrong body type": map[string]any{"VarC": "text"},
	} {
		t.Run(name, func(t *testing.T) {
			data, err := cbor.Marshal(v)
			require.NoError(t, err)
			var load TestLoad
			assert.Error(t, cbor.Unmarshal(data, &load))
		})
	}
}

func TestMyModel_EchoesInput(t *testing.T) {
	// GIVEN an echo model with its output captured
	model := &MyModel{}
	mb := sim.NewMailbox[*MyModel]()
	input := sim.NewEventSource[TestLoad]()
	sim.ConnectSource(input, (*MyModel).MyInput, mb.Address())
	output := sim.NewEventBuffer[TestLoad]()
	model.Output.ConnectSink(output)
	s, err := sim.NewSimInit().AddModel(model, mb, "model").Init(sim.Epoch)
	require.NoError(t, err)

	// WHEN loads are sent
	require.NoError(t, sim.Process(s, input, TestLoad{VarC(1)}))
	require.NoError(t, sim.Process(s, input, TestLoad{VarA{}}))

	// THEN they come out unchanged and in order
	assert.Equal(t, []TestLoad{{VarC(1)}, {VarA{}}}, output.Drain())
}
