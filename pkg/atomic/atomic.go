// Package atomic defines the ledger's unit of record and the two pure
// functions every party agrees on: Hash (the content address) and
// Validate (the structural acceptance check).
//
// An Atomic is an assertion that an actor did something to a subject. Its
// wire form is a JSON object; the stored form written by this package is
// the canonical encoding of that object. A decoded atomic keeps every member
// it arrived with, including unknown nested keys, nulls and empty strings,
// so records produced elsewhere hash identically here.
package atomic

import (
	"fmt"
	"slices"

	"github.com/jmerrifield20/logline/pkg/canonical"
)

// EntityType is the closed set of subjects an atomic can describe.
type EntityType string

const (
	EntityFile     EntityType = "file"
	EntityFunction EntityType = "function"
	EntityLaw      EntityType = "law"
	EntityDecision EntityType = "decision"
	EntityAgent    EntityType = "agent"
	EntityContract EntityType = "contract"
)

// EntityTypes lists every valid EntityType.
var EntityTypes = []EntityType{
	EntityFile, EntityFunction, EntityLaw, EntityDecision, EntityAgent, EntityContract,
}

// Valid reports whether e is one of EntityTypes.
func (e EntityType) Valid() bool {
	return slices.Contains(EntityTypes, e)
}

// Did is the causal statement: who did what, and optionally why.
type Did struct {
	Actor  string
	Action string
	Reason string
}

// When holds optional lifecycle timestamps, kept as the exact strings supplied.
type When struct {
	StartedAt   string
	CompletedAt string
	ScheduledAt string
}

// Status is the outcome of the action. Result is free-form.
type Status struct {
	State   string
	Result  canonical.Value
	Message string
}

// Metadata carries ownership, tracing and bookkeeping fields.
type Metadata struct {
	OwnerID   string
	TenantID  string
	TraceID   string
	ParentID  string
	Tags      []string
	CreatedAt string
	Version   canonical.Value
}

// Signature is an Ed25519 signature over the hex digest of an atomic.
type Signature struct {
	Alg       string `json:"alg"`
	PublicKey string `json:"public_key"`
	Sig       string `json:"sig"`
	SignedAt  string `json:"signed_at"`
}

// Atomic is a single ledger record.
type Atomic struct {
	EntityType EntityType
	This       string
	Did        *Did
	Input      canonical.Value
	Output     canonical.Value
	Payload    canonical.Value
	When       *When
	Status     *Status
	Policy     canonical.Value
	Metadata   *Metadata
	Prev       string

	// CurrHash and Signature are the seal. They are excluded from hashing.
	CurrHash  string
	Signature *Signature

	// Extensions holds top-level fields this package does not model.
	Extensions map[string]canonical.Value

	// raw is the object the atomic was decoded from. Members the typed
	// fields cannot express (nested unknown keys, explicit nulls, empty
	// strings) are restored from it when encoding.
	raw canonical.Object
}

// Wire field names.
const (
	fieldEntityType = "entity_type"
	fieldThis       = "this"
	fieldDid        = "did"
	fieldInput      = "input"
	fieldOutput     = "output"
	fieldPayload    = "payload"
	fieldWhen       = "when"
	fieldStatus     = "status"
	fieldPolicy     = "policy"
	fieldMetadata   = "metadata"
	fieldPrev       = "prev"
	fieldCurrHash   = "curr_hash"
	fieldHash       = "hash"
	fieldSignature  = "signature"
)

// TraceID returns metadata.trace_id, or "" when metadata is absent.
func (a *Atomic) TraceID() string {
	if a.Metadata == nil {
		return ""
	}
	return a.Metadata.TraceID
}

// CreatedAt returns metadata.created_at, or "" when metadata is absent.
func (a *Atomic) CreatedAt() string {
	if a.Metadata == nil {
		return ""
	}
	return a.Metadata.CreatedAt
}

// State returns status.state, or "" when status is absent.
func (a *Atomic) State() string {
	if a.Status == nil {
		return ""
	}
	return a.Status.State
}

// Clone returns a deep copy of a.
func (a *Atomic) Clone() *Atomic {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Did != nil {
		d := *a.Did
		cp.Did = &d
	}
	if a.When != nil {
		w := *a.When
		cp.When = &w
	}
	if a.Status != nil {
		s := *a.Status
		s.Result = canonical.Clone(a.Status.Result)
		cp.Status = &s
	}
	if a.Metadata != nil {
		m := *a.Metadata
		m.Tags = slices.Clone(a.Metadata.Tags)
		m.Version = canonical.Clone(a.Metadata.Version)
		cp.Metadata = &m
	}
	if a.Signature != nil {
		s := *a.Signature
		cp.Signature = &s
	}
	cp.Input = canonical.Clone(a.Input)
	cp.Output = canonical.Clone(a.Output)
	cp.Payload = canonical.Clone(a.Payload)
	cp.Policy = canonical.Clone(a.Policy)
	if a.Extensions != nil {
		cp.Extensions = make(map[string]canonical.Value, len(a.Extensions))
		for k, v := range a.Extensions {
			cp.Extensions[k] = canonical.Clone(v)
		}
	}
	if a.raw != nil {
		cp.raw = canonical.Clone(a.raw).(canonical.Object)
	}
	return &cp
}

// ToValue returns the atomic as a structured value. For a decoded atomic
// this reproduces the decoded object, apart from edits made through the
// struct fields. Otherwise empty optional strings and nil sub-objects are
// omitted. When sealed is false the hash and signature fields are left
// out; that form is what Hash digests.
func (a *Atomic) ToValue(sealed bool) canonical.Object {
	obj := make(canonical.Object, len(a.Extensions)+12)
	for k, v := range a.Extensions {
		obj[k] = v
	}

	putString(obj, fieldEntityType, string(a.EntityType))
	putString(obj, fieldThis, a.This)
	if a.Did != nil {
		did := canonical.Object{}
		putString(did, "actor", a.Did.Actor)
		putString(did, "action", a.Did.Action)
		putString(did, "reason", a.Did.Reason)
		obj[fieldDid] = did
	}
	putValue(obj, fieldInput, a.Input)
	putValue(obj, fieldOutput, a.Output)
	putValue(obj, fieldPayload, a.Payload)
	if a.When != nil {
		when := canonical.Object{}
		putString(when, "started_at", a.When.StartedAt)
		putString(when, "completed_at", a.When.CompletedAt)
		putString(when, "scheduled_at", a.When.ScheduledAt)
		obj[fieldWhen] = when
	}
	if a.Status != nil {
		st := canonical.Object{}
		putString(st, "state", a.Status.State)
		putValue(st, "result", a.Status.Result)
		putString(st, "message", a.Status.Message)
		obj[fieldStatus] = st
	}
	putValue(obj, fieldPolicy, a.Policy)
	if a.Metadata != nil {
		md := canonical.Object{}
		putString(md, "owner_id", a.Metadata.OwnerID)
		putString(md, "tenant_id", a.Metadata.TenantID)
		putString(md, "trace_id", a.Metadata.TraceID)
		putString(md, "parent_id", a.Metadata.ParentID)
		if a.Metadata.Tags != nil {
			tags := make(canonical.Array, len(a.Metadata.Tags))
			for i, t := range a.Metadata.Tags {
				tags[i] = canonical.String(t)
			}
			md["tags"] = tags
		}
		putString(md, "created_at", a.Metadata.CreatedAt)
		putValue(md, "version", a.Metadata.Version)
		obj[fieldMetadata] = md
	}
	putString(obj, fieldPrev, a.Prev)

	if sealed {
		putString(obj, fieldCurrHash, a.CurrHash)
		if a.Signature != nil {
			obj[fieldSignature] = canonical.Object{
				"alg":        canonical.String(a.Signature.Alg),
				"public_key": canonical.String(a.Signature.PublicKey),
				"sig":        canonical.String(a.Signature.Sig),
				"signed_at":  canonical.String(a.Signature.SignedAt),
			}
		}
	}
	if a.raw != nil {
		a.restore(obj, sealed)
	}
	return obj
}

// Nested members modelled by the typed fields.
var nestedFields = map[string][]string{
	fieldDid:       {"actor", "action", "reason"},
	fieldWhen:      {"started_at", "completed_at", "scheduled_at"},
	fieldStatus:    {"state", "result", "message"},
	fieldMetadata:  {"owner_id", "tenant_id", "trace_id", "parent_id", "tags", "created_at", "version"},
	fieldSignature: {"alg", "public_key", "sig", "signed_at"},
}

// restore copies into obj the members of a.raw that the typed fields lost.
// A modelled member missing from obj comes back only when it was null or
// "", so a field cleared through the struct stays cleared. Top-level
// unknown keys live in Extensions and are not restored.
func (a *Atomic) restore(obj canonical.Object, sealed bool) {
	for k, rv := range a.raw {
		switch k {
		case fieldHash:
			continue
		case fieldCurrHash:
			if !sealed {
				continue
			}
		case fieldSignature:
			if !sealed {
				continue
			}
			// A replaced signature keeps nothing of the old one.
			if sub, ok := rv.(canonical.Object); ok && a.Signature != nil && sub["sig"] != canonical.String(a.Signature.Sig) {
				continue
			}
		}
		fields, nested := nestedFields[k]
		if !nested && !isTopField(k) {
			continue
		}
		cur, has := obj[k]
		if !has {
			if isBlank(rv) {
				obj[k] = rv
			}
			continue
		}
		dst, dok := cur.(canonical.Object)
		src, sok := rv.(canonical.Object)
		if !nested || !dok || !sok {
			continue
		}
		for sk, sv := range src {
			if _, present := dst[sk]; present {
				continue
			}
			if !slices.Contains(fields, sk) || isBlank(sv) {
				dst[sk] = canonical.Clone(sv)
			}
		}
	}
}

func isTopField(k string) bool {
	switch k {
	case fieldEntityType, fieldThis, fieldInput, fieldOutput, fieldPayload,
		fieldPolicy, fieldPrev, fieldCurrHash:
		return true
	}
	return false
}

// isBlank reports whether v is null or the empty string.
func isBlank(v canonical.Value) bool {
	switch val := v.(type) {
	case canonical.Null:
		return true
	case canonical.String:
		return val == ""
	}
	return false
}

// MarshalJSON writes the sealed atomic in canonical form.
func (a *Atomic) MarshalJSON() ([]byte, error) {
	return canonical.Marshal(a.ToValue(true))
}

// UnmarshalJSON accepts any key order and whitespace. Both "curr_hash" and
// "hash" are accepted for the content address.
func (a *Atomic) UnmarshalJSON(data []byte) error {
	v, err := canonical.Parse(data)
	if err != nil {
		return err
	}
	parsed, err := FromValue(v)
	if err != nil {
		return err
	}
	*a = *parsed
	return nil
}

// Parse decodes an atomic from its JSON wire form.
func Parse(data []byte) (*Atomic, error) {
	a := &Atomic{}
	if err := a.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return a, nil
}

// FromValue builds an Atomic from a structured value. Fields of the wrong
// JSON kind are decoding errors; missing fields are left for Validate.
func FromValue(v canonical.Value) (*Atomic, error) {
	obj, ok := v.(canonical.Object)
	if !ok {
		return nil, fmt.Errorf("atomic must be a JSON object, got %T", v)
	}

	a := &Atomic{raw: canonical.Clone(obj).(canonical.Object)}
	d := decoder{}
	for k, val := range obj {
		switch k {
		case fieldEntityType:
			a.EntityType = EntityType(d.str(k, val))
		case fieldThis:
			a.This = d.str(k, val)
		case fieldDid:
			if sub := d.object(k, val); sub != nil {
				a.Did = &Did{
					Actor:  d.str("did.actor", sub["actor"]),
					Action: d.str("did.action", sub["action"]),
					Reason: d.str("did.reason", sub["reason"]),
				}
			}
		case fieldInput:
			a.Input = val
		case fieldOutput:
			a.Output = val
		case fieldPayload:
			a.Payload = val
		case fieldWhen:
			if sub := d.object(k, val); sub != nil {
				a.When = &When{
					StartedAt:   d.str("when.started_at", sub["started_at"]),
					CompletedAt: d.str("when.completed_at", sub["completed_at"]),
					ScheduledAt: d.str("when.scheduled_at", sub["scheduled_at"]),
				}
			}
		case fieldStatus:
			if sub := d.object(k, val); sub != nil {
				a.Status = &Status{
					State:   d.str("status.state", sub["state"]),
					Result:  sub["result"],
					Message: d.str("status.message", sub["message"]),
				}
			}
		case fieldPolicy:
			a.Policy = val
		case fieldMetadata:
			if sub := d.object(k, val); sub != nil {
				a.Metadata = &Metadata{
					OwnerID:   d.str("metadata.owner_id", sub["owner_id"]),
					TenantID:  d.str("metadata.tenant_id", sub["tenant_id"]),
					TraceID:   d.str("metadata.trace_id", sub["trace_id"]),
					ParentID:  d.str("metadata.parent_id", sub["parent_id"]),
					Tags:      d.strings("metadata.tags", sub["tags"]),
					CreatedAt: d.str("metadata.created_at", sub["created_at"]),
					Version:   sub["version"],
				}
			}
		case fieldPrev:
			a.Prev = d.str(k, val)
		case fieldCurrHash:
			a.CurrHash = d.str(k, val)
		case fieldHash:
			if _, has := obj[fieldCurrHash]; !has {
				a.CurrHash = d.str(k, val)
			}
		case fieldSignature:
			if sub := d.object(k, val); sub != nil {
				a.Signature = &Signature{
					Alg:       d.str("signature.alg", sub["alg"]),
					PublicKey: d.str("signature.public_key", sub["public_key"]),
					Sig:       d.str("signature.sig", sub["sig"]),
					SignedAt:  d.str("signature.signed_at", sub["signed_at"]),
				}
			}
		default:
			if a.Extensions == nil {
				a.Extensions = make(map[string]canonical.Value)
			}
			a.Extensions[k] = val
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return a, nil
}

// decoder records the first type error and keeps going so FromValue stays linear.
type decoder struct {
	err error
}

func (d *decoder) fail(field, want string, got canonical.Value) {
	if d.err == nil {
		d.err = fmt.Errorf("field %s: expected %s, got %T", field, want, got)
	}
}

func (d *decoder) str(field string, v canonical.Value) string {
	switch val := v.(type) {
	case nil, canonical.Null:
		return ""
	case canonical.String:
		return string(val)
	default:
		d.fail(field, "string", v)
		return ""
	}
}

func (d *decoder) object(field string, v canonical.Value) canonical.Object {
	switch val := v.(type) {
	case nil, canonical.Null:
		return nil
	case canonical.Object:
		return val
	default:
		d.fail(field, "object", v)
		return nil
	}
}

func (d *decoder) strings(field string, v canonical.Value) []string {
	switch val := v.(type) {
	case nil, canonical.Null:
		return nil
	case canonical.Array:
		out := make([]string, len(val))
		for i, elem := range val {
			out[i] = d.str(fmt.Sprintf("%s[%d]", field, i), elem)
		}
		return out
	default:
		d.fail(field, "array", v)
		return nil
	}
}

func putString(obj canonical.Object, key, val string) {
	if val != "" {
		obj[key] = canonical.String(val)
	}
}

func putValue(obj canonical.Object, key string, val canonical.Value) {
	if val != nil {
		obj[key] = val
	}
}
