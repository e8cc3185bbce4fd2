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

package hub

import (
	"errors"

	"github.com/apex/log"
	"github.com/printfarm/streamhub/common"
)

// ErrMaxClientsReached the tenant's connection ceiling is hit
var ErrMaxClientsReached = errors.New("max concurrent clients reached")

// ConnectionRegistry the live connection set for one tenant instance.
//
// A slot is reserved before the protocol upgrade and bound to the connection
// after, so the ceiling check happens while a plain HTTP error can still be
// returned. Not internally locked: all access is serialized through the
// owning instance's task processor.
type ConnectionRegistry struct {
	common.Component
	connections map[Connection]bool
	reserved    int
	maxClients  int
}

// GetConnectionRegistry define a new connection registry
func GetConnectionRegistry(tenantID string, maxClients int) *ConnectionRegistry {
	logTags := log.Fields{
		"module": "hub", "component": "connection-registry", "tenant": tenantID,
	}
	return &ConnectionRegistry{
		Component:   common.Component{LogTags: logTags},
		connections: make(map[Connection]bool),
		maxClients:  maxClients,
	}
}

// ReserveSlot claim one connection slot ahead of the protocol upgrade
func (r *ConnectionRegistry) ReserveSlot() error {
	if len(r.connections)+r.reserved >= r.maxClients {
		log.WithFields(r.LogTags).Warnf(
			"Rejecting connection: %d live, %d reserved, ceiling %d",
			len(r.connections), r.reserved, r.maxClients,
		)
		return ErrMaxClientsReached
	}
	r.reserved++
	return nil
}

// ReleaseSlot give back a reservation whose upgrade never completed
func (r *ConnectionRegistry) ReleaseSlot() {
	if r.reserved > 0 {
		r.reserved--
	}
}

// Bind turn a reservation into a live registry entry
func (r *ConnectionRegistry) Bind(conn Connection) {
	if r.reserved > 0 {
		r.reserved--
	}
	r.connections[conn] = true
	log.WithFields(r.LogTags).Debugf(
		"Connection %s registered, %d live", conn.ID(), len(r.connections),
	)
}

// Remove drop the connection from the registry
func (r *ConnectionRegistry) Remove(conn Connection) bool {
	if _, ok := r.connections[conn]; !ok {
		return false
	}
	delete(r.connections, conn)
	log.WithFields(r.LogTags).Debugf(
		"Connection %s removed, %d live", conn.ID(), len(r.connections),
	)
	return true
}

// Has whether the connection is registered
func (r *ConnectionRegistry) Has(conn Connection) bool {
	return r.connections[conn]
}

// Len number of live connections
func (r *ConnectionRegistry) Len() int {
	return len(r.connections)
}

// MaxClients the configured connection ceiling
func (r *ConnectionRegistry) MaxClients() int {
	return r.maxClients
}

// Snapshot copy of the live connection set for iteration
func (r *ConnectionRegistry) Snapshot() []Connection {
	conns := make([]Connection, 0, len(r.connections))
	for conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}
