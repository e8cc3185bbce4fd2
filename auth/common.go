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
	"errors"
	"time"
)

// ErrRecordNotFound returned when a lookup matches no record
var ErrRecordNotFound = errors.New("record not found")

// SessionRecord one session token record issued by the platform
type SessionRecord struct {
	// Token is the opaque bearer token
	Token string `json:"token" validate:"required"`
	// UserID is the owning user
	UserID string `json:"user_id" validate:"required"`
	// ExpiresAt is when the session stops being valid
	ExpiresAt time.Time `json:"expires_at"`
}

// UserRecord one platform user
type UserRecord struct {
	// ID is the user ID
	ID string `json:"id" validate:"required"`
	// Email is the user's email address
	Email string `json:"email"`
	// Name is the user's display name
	Name string `json:"name"`
}

// Verifier resolves bearer tokens against the shared platform database.
//
// The hub consumes this collaborator; session issuance and revocation live
// elsewhere in the platform. Expiry of a SessionRecord is judged by the
// caller so the hub controls the reference clock.
type Verifier interface {
	// GetSessionByToken look up a session record by bearer token
	GetSessionByToken(ctxt context.Context, token string) (SessionRecord, error)
	// GetUserByID look up a user by ID
	GetUserByID(ctxt context.Context, userID string) (UserRecord, error)
	// IsTenantMember check whether the user is an active member of the tenant
	IsTenantMember(ctxt context.Context, tenantID string, userID string) (bool, error)
}
