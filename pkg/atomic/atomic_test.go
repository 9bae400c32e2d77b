package atomic_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/logline/pkg/atomic"
	"github.com/jmerrifield20/logline/pkg/canonical"
)

func TestParse_FullRecord(t *testing.T) {
	raw := `{
		"entity_type": "function",
		"this": "deploy",
		"did": {"actor": "ci", "action": "ran", "reason": "merge"},
		"input": {"ref": "main"},
		"output": [1, 2],
		"when": {"started_at": "2025-01-01T00:00:00.000Z", "completed_at": "2025-01-01T00:01:00Z"},
		"status": {"state": "succeeded", "result": "ok"},
		"metadata": {"trace_id": "t-9", "owner_id": "o", "tenant_id": "acme", "tags": ["a", "b"], "created_at": "2025-01-01T00:00:00Z", "version": 2},
		"prev": "` + zeros + `",
		"curr_hash": "abc"
	}`

	a, err := atomic.Parse([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, atomic.EntityFunction, a.EntityType)
	assert.Equal(t, "deploy", a.This)
	assert.Equal(t, &atomic.Did{Actor: "ci", Action: "ran", Reason: "merge"}, a.Did)
	assert.Equal(t, canonical.Object{"ref": canonical.String("main")}, a.Input)
	assert.Equal(t, "2025-01-01T00:00:00.000Z", a.When.StartedAt, "timestamps keep their exact text")
	assert.Equal(t, "succeeded", a.State())
	assert.Equal(t, "t-9", a.TraceID())
	assert.Equal(t, []string{"a", "b"}, a.Metadata.Tags)
	assert.Equal(t, canonical.Number(2), a.Metadata.Version)
	assert.Equal(t, zeros, a.Prev)
	assert.Equal(t, "abc", a.CurrHash)
	assert.Nil(t, a.Extensions)
}

const zeros = "0000000000000000000000000000000000000000000000000000000000000000"

func TestParse_HashAlias(t *testing.T) {
	a, err := atomic.Parse([]byte(`{"this":"x","hash":"h1"}`))
	require.NoError(t, err)
	assert.Equal(t, "h1", a.CurrHash)

	a, err = atomic.Parse([]byte(`{"this":"x","hash":"h1","curr_hash":"h2"}`))
	require.NoError(t, err)
	assert.Equal(t, "h2", a.CurrHash, "curr_hash wins over hash")
}

func TestParse_PreservesExtensions(t *testing.T) {
	a, err := atomic.Parse([]byte(`{"this":"x","x_custom":{"k":[true,null]}}`))
	require.NoError(t, err)
	require.Contains(t, a.Extensions, "x_custom")

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `{"this":"x","x_custom":{"k":[true,null]}}`, string(out))
}

func TestParse_WrongKinds(t *testing.T) {
	cases := map[string]string{
		"this not string":  `{"this": 5}`,
		"did not object":   `{"did": "alice"}`,
		"tags not strings": `{"metadata": {"tags": [1]}}`,
		"not an object":    `[1,2]`,
		"broken json":      `{"this":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := atomic.Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestMarshal_IsCanonical(t *testing.T) {
	a := decisionAtomic()
	a.CurrHash = "h"
	a.Signature = &atomic.Signature{Alg: "Ed25519", PublicKey: "pk", Sig: "s", SignedAt: "2025-01-01T00:00:00Z"}

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t,
		`{"curr_hash":"h","did":{"action":"approved","actor":"alice"},"entity_type":"decision",`+
			`"input":{"amount":1200},"metadata":{"created_at":"2025-01-01T00:00:00Z","trace_id":"t-1"},`+
			`"signature":{"alg":"Ed25519","public_key":"pk","sig":"s","signed_at":"2025-01-01T00:00:00Z"},`+
			`"this":"approve_budget"}`,
		string(out))

	back, err := atomic.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, a.ToValue(true), back.ToValue(true))
}

func TestToValue_UnsealedOmitsSeal(t *testing.T) {
	a := decisionAtomic()
	a.CurrHash = "h"
	a.Signature = &atomic.Signature{Alg: "Ed25519"}

	v := a.ToValue(false)
	assert.NotContains(t, v, "curr_hash")
	assert.NotContains(t, v, "signature")

	v = a.ToValue(true)
	assert.Contains(t, v, "curr_hash")
	assert.Contains(t, v, "signature")
}

func TestClone_IsDeep(t *testing.T) {
	a := decisionAtomic()
	a.Metadata.Tags = []string{"x"}
	a.Extensions = map[string]canonical.Value{"e": canonical.Array{canonical.Number(1)}}

	cp := a.Clone()
	require.Equal(t, a, cp)

	cp.Did.Actor = "mallory"
	cp.Metadata.Tags[0] = "y"
	cp.Input.(canonical.Object)["amount"] = canonical.Number(1)
	cp.Extensions["e"].(canonical.Array)[0] = canonical.Number(2)

	assert.Equal(t, "alice", a.Did.Actor)
	assert.Equal(t, "x", a.Metadata.Tags[0])
	assert.Equal(t, canonical.Number(1200), a.Input.(canonical.Object)["amount"])
	assert.Equal(t, canonical.Number(1), a.Extensions["e"].(canonical.Array)[0])
}

func TestEntityType_Valid(t *testing.T) {
	for _, et := range atomic.EntityTypes {
		assert.True(t, et.Valid(), et)
	}
	assert.False(t, atomic.EntityType("banana").Valid())
	assert.False(t, atomic.EntityType("").Valid())
}

func TestParse_KeepsWireForm(t *testing.T) {
	cases := map[string]string{
		"nested extension": `{"did":{"action":"a","actor":"x","via":"cli"},"metadata":{"created_at":"c","region":"eu","trace_id":"t"},"this":"x"}`,
		"explicit null":    `{"did":{"action":"a","actor":"x"},"prev":null,"this":"x","when":null}`,
		"empty string":     `{"did":{"action":"a","actor":"x","reason":""},"entity_type":"","this":"x"}`,
		"object result":    `{"status":{"result":{"code":0,"rows":[1,2]},"state":"done"},"this":"x"}`,
		"signature extras": `{"curr_hash":"h","signature":{"alg":"Ed25519","kid":"k1","public_key":"pk","sig":"s","signed_at":"now"},"this":"x"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			a, err := atomic.Parse([]byte(raw))
			require.NoError(t, err)

			out, err := json.Marshal(a)
			require.NoError(t, err)
			assert.Equal(t, raw, string(out))
		})
	}
}

func TestParse_StructEditsWin(t *testing.T) {
	a, err := atomic.Parse([]byte(`{"did":{"actor":"x","action":"a","reason":"r","via":"cli"},"prev":null,"this":"x",` +
		`"signature":{"alg":"Ed25519","kid":"k1","public_key":"pk","sig":"s","signed_at":"now"}}`))
	require.NoError(t, err)

	a.Did.Reason = ""
	a.Prev = zeros
	a.Signature = &atomic.Signature{Alg: "Ed25519", PublicKey: "pk2", Sig: "s2", SignedAt: "later"}

	out, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t,
		`{"did":{"action":"a","actor":"x","via":"cli"},"prev":"`+zeros+`",`+
			`"signature":{"alg":"Ed25519","public_key":"pk2","sig":"s2","signed_at":"later"},"this":"x"}`,
		string(out))
}

func TestClone_KeepsWireForm(t *testing.T) {
	a, err := atomic.Parse([]byte(`{"metadata":{"region":"eu","trace_id":"t"},"this":"x"}`))
	require.NoError(t, err)

	cp := a.Clone()
	assert.Equal(t, a.ToValue(true), cp.ToValue(true))
	assert.Contains(t, cp.ToValue(false)["metadata"], "region")
}

