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

package metainfo

import (
	"errors"
	"fmt"
)

// Errors returned by Build.
var (
	// ErrEmptyContent is returned when the content to be shared has a
	// total length of zero.
	ErrEmptyContent = errors.New("metainfo: total content length is zero")

	// ErrInvalidPieceLength is returned for piece lengths below 1.
	ErrInvalidPieceLength = errors.New("metainfo: piece length must be at least 1")

	// ErrBuildCancelled is returned when the build's Cancel function
	// reported cancellation.
	ErrBuildCancelled = errors.New("metainfo: build cancelled")
)

// InvalidMetainfoError represents a structural violation of the metainfo
// schema, like a missing info dictionary or a wrongly typed field.
type InvalidMetainfoError struct {
	Reason string
}

func (e *InvalidMetainfoError) Error() string {
	return "metainfo: " + e.Reason
}

// KeyCollisionError is returned when an extra field would shadow a
// recognized metainfo key.
type KeyCollisionError struct {
	Key string // the offending key
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("metainfo: extra field %q collides with a recognized key", e.Key)
}
