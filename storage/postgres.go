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
	"errors"

	"github.com/apex/log"
	"github.com/jackc/pgx/v5"
	"github.com/printfarm/streamhub/common"
	"github.com/printfarm/streamhub/core"
)

// postgresKeyValueStore KeyValueStore backed by the shared platform database
type postgresKeyValueStore struct {
	common.Component
	client *core.PostgresClient
}

// CreatePostgresKeyValueStore define a Postgres backed KeyValueStore.
//
// The backing table is created if it does not exist.
func CreatePostgresKeyValueStore(
	ctxt context.Context, client *core.PostgresClient,
) (KeyValueStore, error) {
	logTags := log.Fields{
		"module": "storage", "component": "kv-postgres",
	}
	instance := &postgresKeyValueStore{
		Component: common.Component{LogTags: logTags},
		client:    client,
	}
	if _, err := client.Pool().Exec(
		ctxt,
		`CREATE TABLE IF NOT EXISTS hub_kv (
			key TEXT PRIMARY KEY,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to ready hub_kv table")
		return nil, err
	}
	return instance, nil
}

// Get fetch the value stored under key into target
func (s *postgresKeyValueStore) Get(
	ctxt context.Context, key string, target interface{},
) error {
	var raw []byte
	err := s.client.Pool().QueryRow(
		ctxt, `SELECT value FROM hub_kv WHERE key = $1`, key,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrKeyNotFound
		}
		log.WithError(err).WithFields(s.LogTags).Errorf("Unable to fetch key %s", key)
		return err
	}
	return json.Unmarshal(raw, target)
}

// Set store value under key, replacing any existing value
func (s *postgresKeyValueStore) Set(
	ctxt context.Context, key string, value interface{},
) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if _, err := s.client.Pool().Exec(
		ctxt,
		`INSERT INTO hub_kv (key, value, updated_at) VALUES ($1, $2, now())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key,
		raw,
	); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Unable to store key %s", key)
		return err
	}
	return nil
}

// SetIfAbsent store value under key only if the key has no value
func (s *postgresKeyValueStore) SetIfAbsent(
	ctxt context.Context, key string, value interface{},
) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	tag, err := s.client.Pool().Exec(
		ctxt,
		`INSERT INTO hub_kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key,
		raw,
	)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Unable to store key %s", key)
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Delete remove the value stored under key
func (s *postgresKeyValueStore) Delete(ctxt context.Context, key string) error {
	if _, err := s.client.Pool().Exec(
		ctxt, `DELETE FROM hub_kv WHERE key = $1`, key,
	); err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf("Unable to delete key %s", key)
		return err
	}
	return nil
}
