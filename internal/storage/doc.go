/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package storage persists canvas style records.
// A record is the value of one persistence target of a canvas (a singleton field, a collection item or a whole
// collection) stamped with a monotonically increasing revision. Backends never let an older revision overwrite a
// newer one. The Writer debounces and coalesces saves per target before handing them to a Backend.
// Backends: embedded SQLite (with per-target history), PostgreSQL, a JSON file per canvas with timestamped backups,
// and a redis read-through cache that wraps any of them.
package storage
