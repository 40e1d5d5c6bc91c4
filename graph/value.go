// Copyright 2019 eBay Inc.
// Primary authors: Simon Fell, Diego Ongaro,
//                  Raymond Kroeker, and Sathish Kandasamy.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graph

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueType tags the payload of a Value. The numeric values are part of the
// on-disk property file format and must not change.
type ValueType uint8

// The persisted value types.
const (
	TypeInt    ValueType = 1
	TypeDouble ValueType = 2
	TypeChar   ValueType = 3
	TypeString ValueType = 4
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeDouble:
		return "double"
	case TypeChar:
		return "char"
	case TypeString:
		return "string"
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

// A Value is a typed property payload as it travels in messages and is stored
// in the MVCC value store: a one-byte type tag plus content bytes.
type Value struct {
	Type    ValueType
	Content []byte
}

// IntValue returns a Value holding an int.
func IntValue(v int64) Value {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return Value{Type: TypeInt, Content: buf[:]}
}

// DoubleValue returns a Value holding a double.
func DoubleValue(v float64) Value {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	return Value{Type: TypeDouble, Content: buf[:]}
}

// CharValue returns a Value holding a single character.
func CharValue(c byte) Value {
	return Value{Type: TypeChar, Content: []byte{c}}
}

// StringValue returns a Value holding a string.
func StringValue(s string) Value {
	return Value{Type: TypeString, Content: []byte(s)}
}

// UintValue returns a Value holding an id (vid, eid, pid) as an int payload.
func UintValue(v uint64) Value {
	return IntValue(int64(v))
}

// ParseLiteral converts the text form of a literal into a Value, inferring
// the type the way property files do: int, double, single-quoted char,
// everything else a string. Surrounding double quotes are stripped.
func ParseLiteral(s string) Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return IntValue(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && strings.ContainsAny(s, ".eE") {
		return DoubleValue(f)
	}
	if len(s) == 3 && s[0] == '\'' && s[2] == '\'' {
		return CharValue(s[1])
	}
	return StringValue(strings.Trim(s, `"`))
}

// Int returns the int payload. It panics on other types; callers check Type
// first or rely on the parser's type checking.
func (v Value) Int() int64 {
	if v.Type != TypeInt {
		panic(fmt.Sprintf("graph: Int() on %v value", v.Type))
	}
	return int64(binary.LittleEndian.Uint64(v.Content))
}

// Double returns the double payload.
func (v Value) Double() float64 {
	if v.Type != TypeDouble {
		panic(fmt.Sprintf("graph: Double() on %v value", v.Type))
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(v.Content))
}

// Number returns the payload of an int or double value as a float64, and
// whether the value was numeric at all.
func (v Value) Number() (float64, bool) {
	switch v.Type {
	case TypeInt:
		return float64(v.Int()), true
	case TypeDouble:
		return v.Double(), true
	}
	return 0, false
}

// IsZero reports whether v is the zero Value, used as a "no value" marker in
// operator parameter lists.
func (v Value) IsZero() bool {
	return v.Type == 0 && len(v.Content) == 0
}

// Equal compares type and content bitwise.
func (v Value) Equal(other Value) bool {
	return v.Type == other.Type && bytes.Equal(v.Content, other.Content)
}

// Compare orders two values: -1, 0, or +1. Numeric types compare by numeric
// value (int vs double mix allowed); chars and strings compare bytewise.
// Values of incomparable types order by type tag so that sorts are total.
func (v Value) Compare(other Value) int {
	a, aNum := v.Number()
	b, bNum := other.Number()
	if aNum && bNum {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	if v.Type != other.Type {
		switch {
		case v.Type < other.Type:
			return -1
		default:
			return 1
		}
	}
	return bytes.Compare(v.Content, other.Content)
}

// String renders the payload in its literal form, the form used in client
// replies.
func (v Value) String() string {
	switch v.Type {
	case TypeInt:
		return strconv.FormatInt(v.Int(), 10)
	case TypeDouble:
		return strconv.FormatFloat(v.Double(), 'f', -1, 64)
	case TypeChar:
		return string(v.Content)
	case TypeString:
		return string(v.Content)
	}
	return fmt.Sprintf("?%d?", v.Type)
}

// Key writes the value's identity (its type byte, then its content) into b;
// the built string is usable as a map key for dedup and group operators.
func (v Value) Key(b *strings.Builder) {
	b.WriteByte(byte(v.Type))
	b.Write(v.Content)
}

// ValuesToList packs several values into one list-typed Value whose content
// is a length-prefixed concatenation. A single value is returned unchanged.
// The inverse is ListToValues.
func ValuesToList(vals []Value) Value {
	if len(vals) == 1 {
		return vals[0]
	}
	var buf bytes.Buffer
	for _, v := range vals {
		var hdr [5]byte
		hdr[0] = byte(v.Type)
		binary.LittleEndian.PutUint32(hdr[1:], uint32(len(v.Content)))
		buf.Write(hdr[:])
		buf.Write(v.Content)
	}
	return Value{Type: typeList, Content: buf.Bytes()}
}

// typeList is an in-memory only tag for packed value lists; it never reaches
// the value store.
const typeList ValueType = 0x10

// ListToValues unpacks a Value produced by ValuesToList. A non-list value
// yields itself.
func ListToValues(v Value) []Value {
	if v.Type != typeList {
		return []Value{v}
	}
	var out []Value
	c := v.Content
	for len(c) >= 5 {
		n := binary.LittleEndian.Uint32(c[1:5])
		end := 5 + int(n)
		if end > len(c) {
			break
		}
		out = append(out, Value{Type: ValueType(c[0]), Content: c[5:end]})
		c = c[end:]
	}
	return out
}
