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
	"encoding/json"
	"sort"
	"time"

	"github.com/apex/log"
	"github.com/printfarm/streamhub/common"
)

// ClientSession authenticated identity and subscription state bound to one
// Connection. Exists only after the connection completes authentication and
// dies with the connection.
type ClientSession struct {
	// UserID the authenticated user
	UserID string
	// UserEmail the user's email address
	UserEmail string
	// UserName the user's display name
	UserName string
	// TenantID the tenant this instance serves
	TenantID string
	// AuthenticatedAt when authentication completed
	AuthenticatedAt time.Time
	// SubscribedPrinters printer IDs this client opted into. Always non-nil;
	// an empty set means "receive everything", not "receive nothing".
	SubscribedPrinters map[string]bool
}

// NewClientSession define a session with an empty subscription set
func NewClientSession(
	userID string, userEmail string, userName string, tenantID string, timestamp time.Time,
) *ClientSession {
	return &ClientSession{
		UserID:             userID,
		UserEmail:          userEmail,
		UserName:           userName,
		TenantID:           tenantID,
		AuthenticatedAt:    timestamp,
		SubscribedPrinters: make(map[string]bool),
	}
}

// AddSubscriptions add each listed printer ID to the subscription set
func (s *ClientSession) AddSubscriptions(printerIDs []string) {
	for _, id := range printerIDs {
		s.SubscribedPrinters[id] = true
	}
}

// RemoveSubscriptions remove each listed printer ID from the subscription set
func (s *ClientSession) RemoveSubscriptions(printerIDs []string) {
	for _, id := range printerIDs {
		delete(s.SubscribedPrinters, id)
	}
}

// ClearSubscriptions reset the subscription set to empty (receive everything)
func (s *ClientSession) ClearSubscriptions() {
	s.SubscribedPrinters = make(map[string]bool)
}

// sessionBlob wire form of a ClientSession carried on the connection
type sessionBlob struct {
	UserID             string    `json:"user_id"`
	UserEmail          string    `json:"user_email"`
	UserName           string    `json:"user_name"`
	TenantID           string    `json:"tenant_id"`
	AuthenticatedAt    time.Time `json:"authenticated_at"`
	SubscribedPrinters []string  `json:"subscribed_printers"`
}

// Serialize encode the session for attachment to its connection.
//
// The subscription set is flattened to a sorted list; an empty set encodes
// as an empty list, never null, so restore can tell it apart from absence.
func (s *ClientSession) Serialize() ([]byte, error) {
	printers := make([]string, 0, len(s.SubscribedPrinters))
	for id := range s.SubscribedPrinters {
		printers = append(printers, id)
	}
	sort.Strings(printers)
	return json.Marshal(&sessionBlob{
		UserID:             s.UserID,
		UserEmail:          s.UserEmail,
		UserName:           s.UserName,
		TenantID:           s.TenantID,
		AuthenticatedAt:    s.AuthenticatedAt,
		SubscribedPrinters: printers,
	})
}

// restoreSession rebuild a session from a connection attachment.
//
// Returns false when the blob is missing, unparsable, or carries no user ID;
// that connection is simply still unauthenticated.
func restoreSession(blob []byte) (*ClientSession, bool) {
	if len(blob) == 0 {
		return nil, false
	}
	var decoded sessionBlob
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return nil, false
	}
	if decoded.UserID == "" {
		return nil, false
	}
	session := &ClientSession{
		UserID:             decoded.UserID,
		UserEmail:          decoded.UserEmail,
		UserName:           decoded.UserName,
		TenantID:           decoded.TenantID,
		AuthenticatedAt:    decoded.AuthenticatedAt,
		SubscribedPrinters: make(map[string]bool, len(decoded.SubscribedPrinters)),
	}
	for _, id := range decoded.SubscribedPrinters {
		session.SubscribedPrinters[id] = true
	}
	return session, true
}

// ========================================================================================

// SessionStore live Connection to ClientSession map.
//
// The map is a cache; the serialized attachment on each connection is the
// durable truth. Callers run Restore before reading so the cache reflects
// reality even after the host discarded process memory. Not internally
// locked: all access is serialized through the owning instance's task
// processor.
type SessionStore struct {
	common.Component
	live map[Connection]*ClientSession
}

// GetSessionStore define a new session store
func GetSessionStore(tenantID string) *SessionStore {
	logTags := log.Fields{
		"module": "hub", "component": "session-store", "tenant": tenantID,
	}
	return &SessionStore{
		Component: common.Component{LogTags: logTags},
		live:      make(map[Connection]*ClientSession),
	}
}

// Install bind the session to the connection and persist it onto the
// connection's attachment
func (s *SessionStore) Install(conn Connection, session *ClientSession) error {
	s.live[conn] = session
	return s.Persist(conn)
}

// Persist re-serialize the connection's session onto its attachment so
// mutations survive a later loss of process memory
func (s *SessionStore) Persist(conn Connection) error {
	session, ok := s.live[conn]
	if !ok {
		return nil
	}
	blob, err := session.Serialize()
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Errorf(
			"Failed to serialize session for connection %s", conn.ID(),
		)
		return err
	}
	conn.SetAttachment(blob)
	return nil
}

// Lookup fetch the session bound to the connection
func (s *SessionStore) Lookup(conn Connection) (*ClientSession, bool) {
	session, ok := s.live[conn]
	return session, ok
}

// Remove drop the connection's entry from the live map
func (s *SessionStore) Remove(conn Connection) {
	delete(s.live, conn)
}

// Count number of connections with a live session
func (s *SessionStore) Count() int {
	return len(s.live)
}

// Restore rebuild the live map from connection attachments.
//
// For every open connection not already in the map, a valid attachment is
// deserialized back into a full session. Connections without one are left
// absent, which is the correct representation of "still unauthenticated".
// Idempotent, pure local deserialization, safe on every hot path.
func (s *SessionStore) Restore(conns []Connection) {
	for _, conn := range conns {
		if _, ok := s.live[conn]; ok {
			continue
		}
		if session, ok := restoreSession(conn.Attachment()); ok {
			s.live[conn] = session
		}
	}
}
