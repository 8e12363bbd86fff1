/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package textlayout

import "strings"

// DefaultFamily is used for new text fields and for unknown family names.
const DefaultFamily = "Georgia"

// AllowedFamilies is the fixed set of font families a text element may use.
var AllowedFamilies = []string{
	"Georgia",
	"Times New Roman",
	"Garamond",
	"Playfair Display",
	"Lora",
	"Great Vibes",
	"Arial",
	"Helvetica",
}

// IsAllowedFamily reports whether name is in AllowedFamilies (case-insensitive).
func IsAllowedFamily(name string) bool {
	_, ok := lookupFamily(name)
	return ok
}

// ResolveFamily returns the canonical spelling of name, or DefaultFamily when
// name is not allowed.
func ResolveFamily(name string) string {
	if f, ok := lookupFamily(name); ok {
		return f
	}
	return DefaultFamily
}

func lookupFamily(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, f := range AllowedFamilies {
		if strings.EqualFold(f, name) {
			return f, true
		}
	}
	return "", false
}
