// Package protocol implements the RESP-derived wire format: a streaming
// line-oriented parser and its structural-inverse serializer.
package protocol

import "fmt"

// Kind tags the five RESP value shapes the wire format carries.
type Kind uint8

const (
	SimpleString Kind = iota
	Error
	Integer
	Bulk
	Array
)

// Value is a single parsed or to-be-serialized RESP element. Exactly one
// of Str, Int, Bulk, or Items is meaningful, selected by Kind.
type Value struct {
	Kind    Kind
	Str     string  // SimpleString / Error text
	Int     int64   // Integer
	Bulk    []byte  // Bulk payload; nil only when BulkNil is set
	BulkNil bool    // true for the nil bulk ($-1)
	Items   []Value // Array elements
}

func NewSimpleString(s string) Value { return Value{Kind: SimpleString, Str: s} }
func NewError(s string) Value        { return Value{Kind: Error, Str: s} }
func NewInteger(n int64) Value       { return Value{Kind: Integer, Int: n} }
func NewBulk(b []byte) Value         { return Value{Kind: Bulk, Bulk: b} }
func NewBulkString(s string) Value   { return Value{Kind: Bulk, Bulk: []byte(s)} }
func NewNilBulk() Value              { return Value{Kind: Bulk, BulkNil: true} }
func NewArray(items []Value) Value   { return Value{Kind: Array, Items: items} }

// OK is the canonical "+OK" simple string used by many command replies.
func OK() Value { return NewSimpleString("OK") }

// Errorf builds an Error value with a formatted message.
func Errorf(format string, args ...any) Value {
	return NewError(fmt.Sprintf(format, args...))
}

// Equal reports whether two values are structurally identical. Used by
// round-trip tests; not used on the hot path.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case SimpleString, Error:
		return v.Str == o.Str
	case Integer:
		return v.Int == o.Int
	case Bulk:
		if v.BulkNil != o.BulkNil {
			return false
		}
		if v.BulkNil {
			return true
		}
		return string(v.Bulk) == string(o.Bulk)
	case Array:
		if len(v.Items) != len(o.Items) {
			return false
		}
		for i := range v.Items {
			if !v.Items[i].Equal(o.Items[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// AsBytes returns the bulk payload, or nil when the bulk is nil or the
// value is not a bulk string.
func (v Value) AsBytes() []byte {
	if v.Kind != Bulk || v.BulkNil {
		return nil
	}
	return v.Bulk
}
