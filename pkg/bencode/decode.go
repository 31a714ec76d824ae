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

// Package bencode implements a strict codec for the bencode data format.
// Decoding happens in two stages: the scanner package tokenizes the
// source while enforcing canonical form, and the tokens are then parsed
// into terms. Strings are terms of type string, integers int64, lists
// []any and dictionaries map[string]any; Unmarshal additionally binds
// terms onto tagged structs, maps and slices.
package bencode

import (
	"fmt"
	"reflect"
	"strconv"

	"laptudirm.com/x/torrentfile/pkg/bencode/scanner"
	"laptudirm.com/x/torrentfile/pkg/bencode/token"
)

// Unmarshal unmarshals bencode data into v. The data has to consist of
// exactly one top-level bencode value in canonical form.
func Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		if !rv.IsValid() {
			return &InvalidUnmarshalError{nil}
		}

		return &InvalidUnmarshalError{rv.Type()}
	}

	s := scanner.New(data)
	if err := s.Valid(); err != nil {
		return err
	}

	term, _, err := parse(s.Tokens, 0)
	if err != nil {
		return err
	}

	return bind(rv, term)
}

// DecodeAll decodes data as a sequence of top-level bencode terms,
// consumed until the end of input.
func DecodeAll(data []byte) ([]any, error) {
	s := scanner.New(data)
	for !s.AtEnd() {
		if err := s.Next(); err != nil {
			return nil, err
		}
	}

	var terms []any
	for pos := 0; pos < len(s.Tokens); {
		term, next, err := parse(s.Tokens, pos)
		if err != nil {
			return nil, err
		}

		terms = append(terms, term)
		pos = next
	}

	return terms, nil
}

// Valid checks if the provided data is valid bencode.
func Valid(data []byte) bool {
	return scanner.Valid(data)
}

// parse builds the term starting at tokens[pos] and returns it together
// with the position of the first token after it. The stream is already
// validated by the scanner, so the only error left to detect is an
// integer outside the int64 range.
func parse(tokens []token.Token, pos int) (any, int, error) {
	tok := tokens[pos]
	pos++

	switch tok.Kind {
	case token.Bytes:
		return tok.Payload(), pos, nil

	case token.Integer:
		n, err := strconv.ParseInt(tok.Digits(), 10, 64)
		if err != nil {
			return nil, pos, fmt.Errorf("bencode: integer %s out of range", tok.Digits())
		}

		return n, pos, nil

	case token.ListStart:
		var list []any
		for tokens[pos].Kind != token.End {
			elem, next, err := parse(tokens, pos)
			if err != nil {
				return nil, next, err
			}

			list = append(list, elem)
			pos = next
		}

		// skip the End token
		return list, pos + 1, nil

	case token.DictStart:
		dict := make(map[string]any)
		for tokens[pos].Kind != token.End {
			// the scanner guarantees the key is a Bytes token
			key := tokens[pos].Payload()

			value, next, err := parse(tokens, pos+1)
			if err != nil {
				return nil, next, err
			}

			dict[key] = value
			pos = next
		}

		// skip the End token
		return dict, pos + 1, nil

	default:
		panic("bencode: illegal token without scanner error")
	}
}

// UnmarshalTypeError represents an error where a bencode term is being
// unmarshalled into an incompatible go type.
type UnmarshalTypeError struct {
	Value string       // description of the bencode term
	Type  reflect.Type // the go type
}

func (e *UnmarshalTypeError) Error() string {
	return fmt.Sprintf("bencode: cannot unmarshal %s into Go value of type %s", e.Value, e.Type)
}

// InvalidUnmarshalError represents an error where data is getting
// unmarshalled into an invalid go type.
type InvalidUnmarshalError struct {
	Type reflect.Type // the invalid type
}

func (e *InvalidUnmarshalError) Error() string {
	switch {
	case e.Type == nil:
		return "bencode: Unmarshal(nil)"
	case e.Type.Kind() != reflect.Pointer:
		return fmt.Sprintf("bencode: Unmarshal(non-pointer %s)", e.Type)
	default:
		return fmt.Sprintf("bencode: Unmarshal(nil %s)", e.Type)
	}
}

// bind stores term into the value v points at, allocating nil pointers
// along the way. Destinations of type any receive the term as is.
func bind(v reflect.Value, term any) error {
	// walk pointers down to an assignable value
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}

		v = v.Elem()
	}

	// an empty interface takes any term unchanged
	if v.Kind() == reflect.Interface && v.NumMethod() == 0 {
		v.Set(reflect.ValueOf(term))
		return nil
	}

	switch term := term.(type) {
	case string:
		return bindString(v, term)
	case int64:
		return bindInteger(v, term)
	case []any:
		return bindList(v, term)
	case map[string]any:
		return bindDict(v, term)
	default:
		panic("bencode: unexpected term kind")
	}
}

// bindString stores a string term into a string or byte slice.
func bindString(v reflect.Value, s string) error {
	switch {
	case v.Kind() == reflect.String:
		v.SetString(s)
	case v.Kind() == reflect.Slice && v.Type().Elem().Kind() == reflect.Uint8:
		v.SetBytes([]byte(s))
	default:
		return &UnmarshalTypeError{Value: "string", Type: v.Type()}
	}

	return nil
}

// bindInteger stores an integer term into any integer type it fits.
func bindInteger(v reflect.Value, n int64) error {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.OverflowInt(n) {
			return &UnmarshalTypeError{Value: fmt.Sprintf("integer %d", n), Type: v.Type()}
		}

		v.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n < 0 || v.OverflowUint(uint64(n)) {
			return &UnmarshalTypeError{Value: fmt.Sprintf("integer %d", n), Type: v.Type()}
		}

		v.SetUint(uint64(n))

	default:
		return &UnmarshalTypeError{Value: "integer", Type: v.Type()}
	}

	return nil
}

// bindList stores a list term into a slice or array. Elements past the
// end of a fixed length array are dropped.
func bindList(v reflect.Value, list []any) error {
	switch v.Kind() {
	case reflect.Slice:
		v.Set(reflect.MakeSlice(v.Type(), len(list), len(list)))
	case reflect.Array:
	default:
		return &UnmarshalTypeError{Value: "list", Type: v.Type()}
	}

	for i, elem := range list {
		if i >= v.Len() {
			break
		}

		if err := bind(v.Index(i), elem); err != nil {
			return err
		}
	}

	return nil
}

// bindDict stores a dictionary term into a string keyed map or a tagged
// struct. Keys without a matching struct field are skipped.
func bindDict(v reflect.Value, dict map[string]any) error {
	switch v.Kind() {
	case reflect.Map:
		t := v.Type()
		if t.Key().Kind() != reflect.String {
			return &UnmarshalTypeError{Value: "dictionary", Type: t}
		}

		if v.IsNil() {
			v.Set(reflect.MakeMap(t))
		}

		for key, value := range dict {
			elem := reflect.New(t.Elem()).Elem()
			if err := bind(elem, value); err != nil {
				return err
			}

			v.SetMapIndex(reflect.ValueOf(key).Convert(t.Key()), elem)
		}

	case reflect.Struct:
		fields := typeFields(v.Type())
		for key, value := range dict {
			f := lookupField(fields, key)
			if f == nil {
				continue
			}

			if err := bind(v.FieldByIndex(f.index), value); err != nil {
				return err
			}
		}

	default:
		return &UnmarshalTypeError{Value: "dictionary", Type: v.Type()}
	}

	return nil
}
