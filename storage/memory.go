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
	"encoding/json"
	"sync"
)

// inMemoryKeyValueStore KeyValueStore held in process memory.
//
// Used by unit tests and local development. Values round trip through JSON
// the same way the Postgres store does.
type inMemoryKeyValueStore struct {
	lclMutex sync.RWMutex
	values   map[string][]byte
}

// CreateInMemoryKeyValueStore define an in-memory KeyValueStore
func CreateInMemoryKeyValueStore() KeyValueStore {
	return &inMemoryKeyValueStore{values: make(map[string][]byte)}
}

// Get fetch the value stored under key into target
func (s *inMemoryKeyValueStore) Get(
	_ context.Context, key string, target interface{},
) error {
	s.lclMutex.RLock()
	defer s.lclMutex.RUnlock()
	raw, ok := s.values[key]
	if !ok {
		return ErrKeyNotFound
	}
	return json.Unmarshal(raw, target)
}

// Set store value under key, replacing any existing value
func (s *inMemoryKeyValueStore) Set(
	_ context.Context, key string, value interface{},
) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.lclMutex.Lock()
	defer s.lclMutex.Unlock()
	s.values[key] = raw
	return nil
}

// SetIfAbsent store value under key only if the key has no value
func (s *inMemoryKeyValueStore) SetIfAbsent(
	_ context.Context, key string, value interface{},
) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	s.lclMutex.Lock()
	defer s.lclMutex.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = raw
	return true, nil
}

// Delete remove the value stored under key
func (s *inMemoryKeyValueStore) Delete(_ context.Context, key string) error {
	s.lclMutex.Lock()
	defer s.lclMutex.Unlock()
	delete(s.values, key)
	return nil
}
