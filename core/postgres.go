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

package core

import (
	"context"
	"time"

	"github.com/apex/log"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/printfarm/streamhub/common"
)

// PostgresConnectParams Postgres connection parameter
type PostgresConnectParams struct {
	// DSN connect to Postgres with this connection string
	DSN string `validate:"required"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
}

// PostgresClient client for the shared platform database
type PostgresClient struct {
	common.Component
	pool *pgxpool.Pool
}

// GetPostgresClient define a new Postgres client
func GetPostgresClient(
	ctxt context.Context, param PostgresConnectParams,
) (*PostgresClient, error) {
	logTags := log.Fields{
		"module": "core", "component": "postgres-backend",
	}
	poolConfig, err := pgxpool.ParseConfig(param.DSN)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to parse Postgres DSN")
		return nil, err
	}
	if param.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = param.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctxt, poolConfig)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Postgres client connect failed")
		return nil, err
	}
	log.WithFields(logTags).Info("Created Postgres client")
	return &PostgresClient{
		Component: common.Component{LogTags: logTags},
		pool:      pool,
	}, nil
}

// Pool fetch the underlying connection pool
func (c *PostgresClient) Pool() *pgxpool.Pool {
	return c.pool
}

// Ready verify connectivity with the database
func (c *PostgresClient) Ready(ctxt context.Context) error {
	return c.pool.Ping(ctxt)
}

// Close close the Postgres client
func (c *PostgresClient) Close() {
	c.pool.Close()
	log.WithFields(c.LogTags).Info("Closed Postgres client")
}
