package canonical

import (
	"math"
	"testing"

	"ogcr-registry/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_KeyOrderAndWhitespaceIndependent(t *testing.T) {
	a := []byte(`{"b": 1, "a": {"z": [1, 2, {"y": true, "x": null}], "c": "s"}}`)
	b := []byte(`{
		"a": {"c": "s", "z": [1,2,{"x":null,"y":true}]},
		"b": 1
	}`)

	ca, err := Canonicalize(a)
	require.NoError(t, err)
	cb, err := Canonicalize(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
	assert.Equal(t, `{"a":{"c":"s","z":[1,2,{"x":null,"y":true}]},"b":1}`, string(ca))

	ha, _, err := Hash(a)
	require.NoError(t, err)
	hb, _, err := Hash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestCanonicalize_GoValuesMatchRawJSON(t *testing.T) {
	type props struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}
	fromStruct, err := Canonicalize(map[string]interface{}{"properties": props{Name: "p", Value: 2.5}, "id": "x"})
	require.NoError(t, err)
	fromRaw, err := Canonicalize([]byte(`{"id":"x","properties":{"value":2.50,"name":"p"}}`))
	require.NoError(t, err)
	assert.Equal(t, string(fromRaw), string(fromStruct))
}

func TestCanonicalize_NumbersAreFixedPoint(t *testing.T) {
	cases := map[string]string{
		`{"n":1e3}`:        `{"n":1000}`,
		`{"n":1.50}`:       `{"n":1.5}`,
		`{"n":-0.0}`:       `{"n":0}`,
		`{"n":2.5E-3}`:     `{"n":0.0025}`,
		`{"n":100}`:        `{"n":100}`,
		`{"n":0.1000000}`:  `{"n":0.1}`,
		`{"n":-12.340e1}`:  `{"n":-123.4}`,
	}
	for in, want := range cases {
		got, err := Canonicalize([]byte(in))
		require.NoError(t, err, in)
		assert.Equal(t, want, string(got), in)
	}
}

func TestCanonicalize_StripsLedgerReference(t *testing.T) {
	with := []byte(`{"id":"p1","ledger_reference":{"transaction_id":"0xabc","block_number":7}}`)
	without := []byte(`{"id":"p1"}`)
	h1, _, err := Hash(with)
	require.NoError(t, err)
	h2, _, err := Hash(without)
	require.NoError(t, err)
	assert.Equal(t, h2, h1)
}

func TestCanonicalize_NoHTMLEscaping(t *testing.T) {
	got, err := Canonicalize(map[string]string{"s": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"s":"a<b>&c"}`, string(got))
}

func TestCanonicalize_NonFiniteNumberFails(t *testing.T) {
	_, err := Canonicalize(map[string]float64{"v": math.NaN()})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.SerializationError))

	_, err = Canonicalize(map[string]float64{"v": math.Inf(1)})
	assert.True(t, domain.IsKind(err, domain.SerializationError))
}

func TestCanonicalize_CycleFails(t *testing.T) {
	m := map[string]interface{}{}
	m["self"] = m
	_, err := Canonicalize(m)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.SerializationError))
}

func TestCanonicalize_InvalidJSONFails(t *testing.T) {
	_, err := Canonicalize([]byte(`{"a":`))
	assert.True(t, domain.IsKind(err, domain.SerializationError))
}
