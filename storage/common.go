// Copyright 2025-2026 The streamhub Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound returned when a key has no stored value
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore durable key value slots for hub instance state.
//
// Values are serialized as JSON. A hub instance uses one slot to pin its
// tenant binding across process restarts.
type KeyValueStore interface {
	// Get fetch the value stored under key into target
	Get(ctxt context.Context, key string, target interface{}) error
	// Set store value under key, replacing any existing value
	Set(ctxt context.Context, key string, value interface{}) error
	// SetIfAbsent store value under key only if the key has no value.
	// Returns true if this call stored the value.
	SetIfAbsent(ctxt context.Context, key string, value interface{}) (bool, error)
	// Delete remove the value stored under key
	Delete(ctxt context.Context, key string) error
}
