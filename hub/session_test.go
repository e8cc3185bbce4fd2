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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionSerializeRestoreRoundTrip(t *testing.T) {
	assert := assert.New(t)

	timestamp := time.Now().UTC().Truncate(time.Millisecond)
	original := NewClientSession("user-1", "ops@example.com", "Ops One", "tenant-a", timestamp)
	original.AddSubscriptions([]string{"P3", "P1", "P2"})

	blob, err := original.Serialize()
	assert.Nil(err)

	restored, ok := restoreSession(blob)
	assert.True(ok)
	assert.Equal(original.UserID, restored.UserID)
	assert.Equal(original.UserEmail, restored.UserEmail)
	assert.Equal(original.UserName, restored.UserName)
	assert.Equal(original.TenantID, restored.TenantID)
	assert.True(original.AuthenticatedAt.Equal(restored.AuthenticatedAt))
	assert.Equal(original.SubscribedPrinters, restored.SubscribedPrinters)
}

func TestSessionEmptySetSurvivesRoundTrip(t *testing.T) {
	assert := assert.New(t)

	original := NewClientSession("user-1", "", "", "tenant-a", time.Now())
	blob, err := original.Serialize()
	assert.Nil(err)

	// An empty set encodes as an empty list, never null
	var wire map[string]interface{}
	assert.Nil(json.Unmarshal(blob, &wire))
	printers, ok := wire["subscribed_printers"].([]interface{})
	assert.True(ok)
	assert.Empty(printers)

	restored, ok := restoreSession(blob)
	assert.True(ok)
	assert.NotNil(restored.SubscribedPrinters)
	assert.Empty(restored.SubscribedPrinters)
}

func TestSessionRestoreRejectsBadBlobs(t *testing.T) {
	assert := assert.New(t)

	// Case 1: no attachment
	_, ok := restoreSession(nil)
	assert.False(ok)

	// Case 2: not JSON
	_, ok = restoreSession([]byte("not json"))
	assert.False(ok)

	// Case 3: missing user ID
	_, ok = restoreSession([]byte(`{"tenant_id": "tenant-a"}`))
	assert.False(ok)
}

func TestSessionMutationReplayEquivalence(t *testing.T) {
	assert := assert.New(t)

	// Applying a mutation sequence directly and replaying it through
	// serialize/restore cycles between steps must land on the same set
	direct := NewClientSession("user-1", "", "", "tenant-a", time.Now())
	replayed := NewClientSession("user-1", "", "", "tenant-a", time.Now())

	steps := []func(s *ClientSession){
		func(s *ClientSession) { s.AddSubscriptions([]string{"P1", "P2", "P3"}) },
		func(s *ClientSession) { s.RemoveSubscriptions([]string{"P2"}) },
		func(s *ClientSession) { s.AddSubscriptions([]string{"P4"}) },
		func(s *ClientSession) { s.RemoveSubscriptions([]string{"missing"}) },
	}

	for _, step := range steps {
		step(direct)

		step(replayed)
		blob, err := replayed.Serialize()
		assert.Nil(err)
		restored, ok := restoreSession(blob)
		assert.True(ok)
		replayed = restored
	}

	assert.Equal(direct.SubscribedPrinters, replayed.SubscribedPrinters)

	// Clearing collapses back to the receive-everything state
	direct.ClearSubscriptions()
	replayed.ClearSubscriptions()
	assert.Empty(direct.SubscribedPrinters)
	assert.Equal(direct.SubscribedPrinters, replayed.SubscribedPrinters)
}

func TestSessionStoreRestore(t *testing.T) {
	assert := assert.New(t)

	uut := GetSessionStore("tenant-a")

	authed := newMockConnection()
	session := NewClientSession("user-1", "", "", "tenant-a", time.Now())
	session.AddSubscriptions([]string{"P1"})
	assert.Nil(uut.Install(authed, session))

	pending := newMockConnection()
	conns := []Connection{authed, pending}

	// Case 1: wiping the live map and restoring rebuilds only the
	// authenticated connection's entry
	uut.Remove(authed)
	assert.Equal(0, uut.Count())
	uut.Restore(conns)
	assert.Equal(1, uut.Count())
	restored, ok := uut.Lookup(authed)
	assert.True(ok)
	assert.Equal("user-1", restored.UserID)
	assert.Equal(map[string]bool{"P1": true}, restored.SubscribedPrinters)
	_, ok = uut.Lookup(pending)
	assert.False(ok)

	// Case 2: restore is idempotent and never replaces a live entry
	live, _ := uut.Lookup(authed)
	uut.Restore(conns)
	uut.Restore(conns)
	assert.Equal(1, uut.Count())
	again, ok := uut.Lookup(authed)
	assert.True(ok)
	assert.Same(live, again)

	// Case 3: mutations persisted through the store survive a wipe
	live.AddSubscriptions([]string{"P2"})
	assert.Nil(uut.Persist(authed))
	uut.Remove(authed)
	uut.Restore(conns)
	rebuilt, ok := uut.Lookup(authed)
	assert.True(ok)
	assert.Equal(map[string]bool{"P1": true, "P2": true}, rebuilt.SubscribedPrinters)
}
