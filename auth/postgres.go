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

	"github.com/apex/log"
	"github.com/jackc/pgx/v5"
	"github.com/printfarm/streamhub/common"
	"github.com/printfarm/streamhub/core"
)

// postgresVerifier Verifier against the shared platform database
type postgresVerifier struct {
	common.Component
	client *core.PostgresClient
}

// GetPostgresVerifier define a Postgres backed Verifier
func GetPostgresVerifier(client *core.PostgresClient) (Verifier, error) {
	logTags := log.Fields{
		"module": "auth", "component": "verifier-postgres",
	}
	return &postgresVerifier{
		Component: common.Component{LogTags: logTags},
		client:    client,
	}, nil
}

// GetSessionByToken look up a session record by bearer token
func (v *postgresVerifier) GetSessionByToken(
	ctxt context.Context, token string,
) (SessionRecord, error) {
	record := SessionRecord{Token: token}
	err := v.client.Pool().QueryRow(
		ctxt,
		`SELECT user_id, expires_at FROM sessions WHERE token = $1`,
		token,
	).Scan(&record.UserID, &record.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SessionRecord{}, ErrRecordNotFound
		}
		log.WithError(err).WithFields(v.LogTags).Error("Session token lookup failed")
		return SessionRecord{}, err
	}
	return record, nil
}

// GetUserByID look up a user by ID
func (v *postgresVerifier) GetUserByID(
	ctxt context.Context, userID string,
) (UserRecord, error) {
	record := UserRecord{ID: userID}
	err := v.client.Pool().QueryRow(
		ctxt,
		`SELECT COALESCE(email, ''), COALESCE(display_name, '') FROM users WHERE id = $1`,
		userID,
	).Scan(&record.Email, &record.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrRecordNotFound
		}
		log.WithError(err).WithFields(v.LogTags).Errorf("User %s lookup failed", userID)
		return UserRecord{}, err
	}
	return record, nil
}

// IsTenantMember check whether the user is an active member of the tenant
func (v *postgresVerifier) IsTenantMember(
	ctxt context.Context, tenantID string, userID string,
) (bool, error) {
	var member bool
	err := v.client.Pool().QueryRow(
		ctxt,
		`SELECT EXISTS (
			SELECT 1 FROM tenant_members
				WHERE tenant_id = $1 AND user_id = $2 AND active
		)`,
		tenantID,
		userID,
	).Scan(&member)
	if err != nil {
		log.WithError(err).WithFields(v.LogTags).Errorf(
			"Membership check for user %s in tenant %s failed", userID, tenantID,
		)
		return false, err
	}
	return member, nil
}
