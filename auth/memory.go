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

package auth

import (
	"context"
	"fmt"
	"sync"
)

// InMemoryVerifier Verifier backed by process memory.
//
// Used by unit tests and local development where no shared database is
// reachable. Safe for concurrent use.
type InMemoryVerifier struct {
	lclMutex    sync.RWMutex
	sessions    map[string]SessionRecord
	users       map[string]UserRecord
	memberships map[string]bool
	// FailNext when set, the next lookup returns this error once
	FailNext error
}

// GetInMemoryVerifier define an in-memory Verifier
func GetInMemoryVerifier() *InMemoryVerifier {
	return &InMemoryVerifier{
		sessions:    make(map[string]SessionRecord),
		users:       make(map[string]UserRecord),
		memberships: make(map[string]bool),
	}
}

// RecordSession install a session record
func (v *InMemoryVerifier) RecordSession(record SessionRecord) {
	v.lclMutex.Lock()
	defer v.lclMutex.Unlock()
	v.sessions[record.Token] = record
}

// RecordUser install a user record
func (v *InMemoryVerifier) RecordUser(record UserRecord) {
	v.lclMutex.Lock()
	defer v.lclMutex.Unlock()
	v.users[record.ID] = record
}

// RecordMembership mark the user as a member of the tenant
func (v *InMemoryVerifier) RecordMembership(tenantID string, userID string, active bool) {
	v.lclMutex.Lock()
	defer v.lclMutex.Unlock()
	v.memberships[membershipKey(tenantID, userID)] = active
}

func (v *InMemoryVerifier) consumeFailure() error {
	if v.FailNext != nil {
		err := v.FailNext
		v.FailNext = nil
		return err
	}
	return nil
}

// GetSessionByToken look up a session record by bearer token
func (v *InMemoryVerifier) GetSessionByToken(
	_ context.Context, token string,
) (SessionRecord, error) {
	v.lclMutex.Lock()
	defer v.lclMutex.Unlock()
	if err := v.consumeFailure(); err != nil {
		return SessionRecord{}, err
	}
	record, ok := v.sessions[token]
	if !ok {
		return SessionRecord{}, ErrRecordNotFound
	}
	return record, nil
}

// GetUserByID look up a user by ID
func (v *InMemoryVerifier) GetUserByID(
	_ context.Context, userID string,
) (UserRecord, error) {
	v.lclMutex.Lock()
	defer v.lclMutex.Unlock()
	if err := v.consumeFailure(); err != nil {
		return UserRecord{}, err
	}
	record, ok := v.users[userID]
	if !ok {
		return UserRecord{}, ErrRecordNotFound
	}
	return record, nil
}

// IsTenantMember check whether the user is an active member of the tenant
func (v *InMemoryVerifier) IsTenantMember(
	_ context.Context, tenantID string, userID string,
) (bool, error) {
	v.lclMutex.Lock()
	defer v.lclMutex.Unlock()
	if err := v.consumeFailure(); err != nil {
		return false, err
	}
	return v.memberships[membershipKey(tenantID, userID)], nil
}

func membershipKey(tenantID string, userID string) string {
	return fmt.Sprintf("%s/%s", tenantID, userID)
}
