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

// Package cmp defines identity keys for objects that need to be compared or
// deduplicated.
package cmp

import (
	"strings"
)

// The Key interface is satisfied by any object whose identity can be
// serialized into a string. This serialization should be optimized for
// machine consumption but remain human-readable enough for debugging.
type Key interface {
	Key(*strings.Builder)
}

// GetKey returns the identity/comparison key of the object.
func GetKey(object Key) string {
	var b strings.Builder
	object.Key(&b)
	return b.String()
}

// GetKeys returns the concatenated identity key of several objects, with a
// '.' separator so adjacent keys can't collide by concatenation.
func GetKeys(objects ...Key) string {
	var b strings.Builder
	for _, object := range objects {
		object.Key(&b)
		b.WriteByte('.')
	}
	return b.String()
}
