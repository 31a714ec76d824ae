// Copyright © 2021 Rak Laptudirm <raklaptudirm@gmail.com>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bencode

import (
	"bytes"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
)

// Marshal marshals v into canonical bencode bytes.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Encode marshals v into canonical bencode and writes it to w. It is the
// streaming variant of Marshal and buffers nothing beyond what recursion
// requires.
func Encode(w io.Writer, v any) error {
	e := &encoder{w: w}
	return e.marshal(reflect.ValueOf(v))
}

// encoder stores the current state of the marshalling.
type encoder struct {
	w io.Writer // output sink
}

// UnsupportedTypeError is returned by Marshal when an unsupported go type is
// marshalled.
type UnsupportedTypeError struct {
	Type reflect.Type // the go type
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("bencode: unsupported type %s", e.Type)
}

// DuplicateKeyError is returned by Marshal when a struct would emit the
// same dictionary key twice, which canonical form forbids.
type DuplicateKeyError struct {
	Key string // the offending key
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("bencode: duplicate dictionary key %q", e.Key)
}

// marshal marshals v into the encoder e and returns an error if any.
func (e *encoder) marshal(v reflect.Value) error {
marshal:
	switch v.Kind() {
	case reflect.Map:
		return e.marshalMap(v)
	case reflect.Struct:
		return e.marshalStruct(v)
	case reflect.String:
		return e.marshalString(v.String())
	case reflect.Array, reflect.Slice:
		// []byte is a bencode string, other slices are lists
		if v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8 {
			return e.marshalBytes(v.Bytes())
		}

		return e.marshalArray(v)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return e.writeString("i" + strconv.FormatInt(v.Int(), 10) + "e")
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return e.writeString("i" + strconv.FormatUint(v.Uint(), 10) + "e")
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return &UnsupportedTypeError{v.Type()}
		}

		v = v.Elem()
		goto marshal
	default:
		if !v.IsValid() {
			return &UnsupportedTypeError{nil}
		}

		return &UnsupportedTypeError{v.Type()}
	}
}

// marshalMap marshals a map into the encoder.
func (e *encoder) marshalMap(v reflect.Value) error {
	if v.Kind() != reflect.Map {
		panic("non-map input to encoder.marshalMap()")
	}

	// key should be of string type
	if v.Type().Key().Kind() != reflect.String {
		return &UnsupportedTypeError{v.Type()}
	}

	// write leading 'd'
	if err := e.writeString("d"); err != nil {
		return err
	}

	// get sorted key list
	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})

	// marshal elements
	for _, key := range keys {
		// marshal key
		if err := e.marshalString(key.String()); err != nil {
			return err
		}

		// marshal value
		err := e.marshal(v.MapIndex(key))
		if err != nil {
			return err
		}
	}

	// write ending 'e'
	return e.writeString("e")
}

// marshalStruct marshals a struct into the encoder.
func (e *encoder) marshalStruct(v reflect.Value) error {
	if v.Kind() != reflect.Struct {
		panic("non-struct input to encoder.marshalStruct()")
	}

	// write leading 'd'
	if err := e.writeString("d"); err != nil {
		return err
	}

	// the field table is already sorted by key name
	prev := ""
	for _, f := range typeFields(v.Type()) {
		d := v.FieldByIndex(f.index)

		if f.omitEmpty && isEmpty(d) {
			continue
		}

		// fields are sorted, so clashing names are adjacent
		if f.name == prev {
			return &DuplicateKeyError{f.name}
		}
		prev = f.name

		// marshal key
		if err := e.marshalString(f.name); err != nil {
			return err
		}

		// marshal value
		err := e.marshal(d)
		if err != nil {
			return err
		}
	}

	// write ending 'e'
	return e.writeString("e")
}

// isEmpty checks if the value is empty and should be omitted. An empty
// value is defined as 0, a nil pointer, a nil interface value, and any
// empty array, slice, map, or string.
func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Array, reflect.Slice, reflect.Map, reflect.String:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// marshalString marshals a string into the encoder.
func (e *encoder) marshalString(str string) error {
	// <length>:<raw bytes>
	return e.writeString(strconv.Itoa(len(str)) + ":" + str)
}

// marshalBytes marshals a byte slice into the encoder as a bencode string.
func (e *encoder) marshalBytes(b []byte) error {
	if err := e.writeString(strconv.Itoa(len(b)) + ":"); err != nil {
		return err
	}

	_, err := e.w.Write(b)
	return err
}

// marshalArray marshals an array or slice into the encoder.
func (e *encoder) marshalArray(v reflect.Value) error {
	switch v.Kind() {
	// check if v is array or slice
	case reflect.Array, reflect.Slice:
		// write leading 'l'
		if err := e.writeString("l"); err != nil {
			return err
		}

		length := v.Len()
		for i := 0; i < length; i++ {
			// marshal each element
			err := e.marshal(v.Index(i))
			if err != nil {
				return err
			}
		}

		// write ending 'e'
		return e.writeString("e")
	default:
		panic("non-array input to encoder.marshalArray()")
	}
}

// writeString writes s to the encoder's sink.
func (e *encoder) writeString(s string) error {
	_, err := io.WriteString(e.w, s)
	return err
}
