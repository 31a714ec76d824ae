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
	"reflect"
	"sort"
	"strings"
	"sync"
)

// field maps one exported struct field to its dictionary key, as
// declared with a `bencode:"name,option"` tag.
type field struct {
	name      string
	index     []int
	omitEmpty bool
}

// fieldCache memoizes the field tables of struct types.
var fieldCache sync.Map // reflect.Type -> []field

// typeFields returns the dictionary fields of the struct type t, sorted
// by key name. The table is computed once per type. Unexported fields
// and fields tagged "-" are left out.
func typeFields(t reflect.Type) []field {
	if cached, ok := fieldCache.Load(t); ok {
		return cached.([]field)
	}

	var fields []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}

		tag := sf.Tag.Get("bencode")
		if tag == "-" {
			continue
		}

		// `bencode:"name,option1,option2"`
		name, options, _ := strings.Cut(tag, ",")
		if name == "" {
			name = sf.Name
		}

		fields = append(fields, field{
			name:      name,
			index:     sf.Index,
			omitEmpty: hasOption(options, "omitempty"),
		})
	}

	sort.Slice(fields, func(i, j int) bool {
		return fields[i].name < fields[j].name
	})

	cached, _ := fieldCache.LoadOrStore(t, fields)
	return cached.([]field)
}

// lookupField finds the field a dictionary key binds to, preferring an
// exact match and falling back to a case folded one.
func lookupField(fields []field, name string) *field {
	i := sort.Search(len(fields), func(i int) bool {
		return fields[i].name >= name
	})
	if i < len(fields) && fields[i].name == name {
		return &fields[i]
	}

	for i := range fields {
		if strings.EqualFold(fields[i].name, name) {
			return &fields[i]
		}
	}

	return nil
}

// hasOption checks if the comma separated option list contains target.
func hasOption(options, target string) bool {
	for options != "" {
		var option string
		option, options, _ = strings.Cut(options, ",")

		if option == target {
			return true
		}
	}

	return false
}
