/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"fmt"
	"regexp"
	"strconv"
)

// FieldKey identifies a styled field: either a singleton field such as
// "fullname" or an item of a backing collection such as gallery index 2.
// The zero value is invalid.
type FieldKey struct {
	name       string
	collection string
	index      int
}

// Singleton returns the key of a named field.
func Singleton(name string) FieldKey { return FieldKey{name: name} }

// CollectionItem returns the key of item index of collection.
func CollectionItem(collection string, index int) FieldKey {
	return FieldKey{collection: collection, index: index}
}

func (k FieldKey) IsCollection() bool { return k.collection != "" }
func (k FieldKey) Name() string       { return k.name }
func (k FieldKey) Collection() string { return k.collection }
func (k FieldKey) Index() int         { return k.index }
func (k FieldKey) IsZero() bool       { return k == FieldKey{} }

// String returns the wire form: "fullname" or "gallery-2".
func (k FieldKey) String() string {
	if k.IsCollection() {
		return k.collection + "-" + strconv.Itoa(k.index)
	}
	return k.name
}

var (
	itemKeyRe    = regexp.MustCompile(`^([a-z][a-z0-9_]*)-([0-9]+)$`)
	collectionRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	singletonRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

// ParseFieldKey converts a wire key into a FieldKey. "<collection>-<n>" is a
// collection item; any other identifier is a singleton field.
func ParseFieldKey(s string) (FieldKey, error) {
	if m := itemKeyRe.FindStringSubmatch(s); m != nil {
		idx, err := strconv.Atoi(m[2])
		if err != nil {
			return FieldKey{}, fmt.Errorf("parse field key %q: %w", s, err)
		}
		return CollectionItem(m[1], idx), nil
	}
	if singletonRe.MatchString(s) {
		return Singleton(s), nil
	}
	return FieldKey{}, fmt.Errorf("parse field key %q: invalid identifier", s)
}

// IsCollectionName reports whether s is a valid collection target.
func IsCollectionName(s string) bool { return collectionRe.MatchString(s) }

func (k FieldKey) MarshalText() ([]byte, error) {
	if k.IsZero() {
		return nil, fmt.Errorf("marshal field key: zero key")
	}
	return []byte(k.String()), nil
}

func (k *FieldKey) UnmarshalText(b []byte) error {
	parsed, err := ParseFieldKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
