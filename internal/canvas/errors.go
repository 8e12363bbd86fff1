/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package canvas

import "errors"

var (
	// ErrInvalidGeometry marks a rect that violates the size floor or the
	// canvas bounds. It is only logged; geometry is clamped instead.
	ErrInvalidGeometry = errors.New("invalid geometry")
	// ErrMissingElement is returned internally when a key no longer resolves.
	// Gestures abort silently on it.
	ErrMissingElement = errors.New("missing element")
	// ErrOrphanedStyleReference reports a collection key whose index has no
	// live item.
	ErrOrphanedStyleReference = errors.New("orphaned style reference")
	// ErrGestureInProgress is returned when a gesture starts while another one
	// is active.
	ErrGestureInProgress = errors.New("gesture already in progress")
	// ErrInvalidAttribute rejects a style value of the wrong type or format.
	ErrInvalidAttribute = errors.New("invalid style attribute")
)
