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
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/printfarm/streamhub/auth"
	"github.com/printfarm/streamhub/storage"
)

type instanceTestEnv struct {
	uut      Instance
	verifier *auth.InMemoryVerifier
	slots    storage.KeyValueStore
	ctxt     context.Context
}

func instanceTestSetup(
	t *testing.T, maxClients int, authTimeout, heartbeatInterval time.Duration,
) *instanceTestEnv {
	t.Helper()
	wg := &sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	verifier := auth.GetInMemoryVerifier()
	slots := storage.CreateInMemoryKeyValueStore()
	uut, err := GetHubInstance(InstanceParams{
		TenantID:                "tenant-a",
		MaxClients:              maxClients,
		AuthTimeout:             authTimeout,
		HeartbeatInterval:       heartbeatInterval,
		CollaboratorCallTimeout: time.Second * 5,
		Verifier:                verifier,
		Slots:                   slots,
	}, ctxt, wg)
	assert.Nil(t, err)

	return &instanceTestEnv{uut: uut, verifier: verifier, slots: slots, ctxt: ctxt}
}

func (e *instanceTestEnv) attach(t *testing.T) *mockConnection {
	t.Helper()
	conn := newMockConnection()
	assert.Nil(t, e.uut.ReserveSlot(e.ctxt))
	assert.Nil(t, e.uut.BindConnection(conn, e.ctxt))
	return conn
}

func (e *instanceTestEnv) recordValidUser(token string, expiresAt time.Time) {
	e.verifier.RecordSession(auth.SessionRecord{
		Token: token, UserID: "user-1", ExpiresAt: expiresAt,
	})
	e.verifier.RecordUser(auth.UserRecord{
		ID: "user-1", Email: "ops@example.com", Name: "Ops One",
	})
	e.verifier.RecordMembership("tenant-a", "user-1", true)
}

func TestHubInstanceAuthLadder(t *testing.T) {
	assert := assert.New(t)

	env := instanceTestSetup(t, 10, time.Hour, time.Hour)
	conn := env.attach(t)

	authMsg := func(token string) []byte {
		return []byte(fmt.Sprintf(`{"type": "auth", "token": "%s"}`, token))
	}
	lastAuthError := func() string {
		reply := conn.lastSent()
		assert.Equal("auth_error", reply["type"])
		reason, _ := reply["error"].(string)
		return reason
	}

	// Case 1: no token
	assert.Nil(env.uut.HandleClientMessage(conn, []byte(`{"type": "auth"}`), env.ctxt))
	assert.Equal(AuthErrTokenRequired, lastAuthError())

	// Case 2: unknown token
	assert.Nil(env.uut.HandleClientMessage(conn, authMsg("bogus"), env.ctxt))
	assert.Equal(AuthErrInvalidToken, lastAuthError())

	// Case 3: expired session
	env.verifier.RecordSession(auth.SessionRecord{
		Token: "expired", UserID: "user-1", ExpiresAt: time.Now().Add(-time.Minute),
	})
	assert.Nil(env.uut.HandleClientMessage(conn, authMsg("expired"), env.ctxt))
	assert.Equal(AuthErrSessionExpired, lastAuthError())

	// A failed attempt leaves the connection listed as unauthenticated
	status, err := env.uut.ReportStatus(env.ctxt)
	assert.Nil(err)
	assert.Equal(1, status.TotalConnections)
	assert.Equal(0, status.AuthenticatedConnections)
	assert.Equal(1, status.UnauthenticatedConnections)

	// Case 4: session resolves but the user record is gone
	env.verifier.RecordSession(auth.SessionRecord{
		Token: "orphan", UserID: "ghost", ExpiresAt: time.Now().Add(time.Hour),
	})
	assert.Nil(env.uut.HandleClientMessage(conn, authMsg("orphan"), env.ctxt))
	assert.Equal(AuthErrUserNotFound, lastAuthError())

	// Case 5: user exists but is not a tenant member
	env.verifier.RecordSession(auth.SessionRecord{
		Token: "outsider", UserID: "user-2", ExpiresAt: time.Now().Add(time.Hour),
	})
	env.verifier.RecordUser(auth.UserRecord{ID: "user-2"})
	assert.Nil(env.uut.HandleClientMessage(conn, authMsg("outsider"), env.ctxt))
	assert.Equal(AuthErrNotTenantMember, lastAuthError())

	// Case 6: unexpected verifier failure degrades to auth_error
	env.recordValidUser("good", time.Now().Add(time.Hour))
	env.verifier.FailNext = fmt.Errorf("database unreachable")
	assert.Nil(env.uut.HandleClientMessage(conn, authMsg("good"), env.ctxt))
	assert.Equal(AuthErrUnexpected, lastAuthError())

	// Case 7: tenant slot missing
	assert.Nil(env.slots.Delete(env.ctxt, "hub/tenant-a/tenant"))
	assert.Nil(env.uut.HandleClientMessage(conn, authMsg("good"), env.ctxt))
	assert.Equal(AuthErrTenantUnset, lastAuthError())

	// Case 8: full success after re-seeding the slot via a new connection
	_ = env.attach(t)
	assert.Nil(env.uut.HandleClientMessage(conn, authMsg("good"), env.ctxt))
	reply := conn.lastSent()
	assert.Equal("auth_success", reply["type"])
	assert.NotEmpty(conn.Attachment())

	status, err = env.uut.ReportStatus(env.ctxt)
	assert.Nil(err)
	assert.Equal(2, status.TotalConnections)
	assert.Equal(1, status.AuthenticatedConnections)
}

func TestHubInstanceSubscribeFlow(t *testing.T) {
	assert := assert.New(t)

	env := instanceTestSetup(t, 10, time.Hour, time.Hour)
	conn := env.attach(t)

	// Case 1: subscribe before auth
	assert.Nil(env.uut.HandleClientMessage(
		conn, []byte(`{"type": "subscribe", "printers": ["P1"]}`), env.ctxt,
	))
	reply := conn.lastSent()
	assert.Equal("error", reply["type"])
	assert.Equal(ErrorCodeNotAuthenticated, reply["code"])

	env.recordValidUser("good", time.Now().Add(time.Hour))
	assert.Nil(env.uut.HandleClientMessage(
		conn, []byte(`{"type": "auth", "token": "good"}`), env.ctxt,
	))
	assert.Equal("auth_success", conn.lastSent()["type"])

	subscriptionStats := func() map[string]int {
		status, err := env.uut.ReportStatus(env.ctxt)
		assert.Nil(err)
		return status.SubscriptionStats
	}

	// Freshly authenticated clients sit in the all_printers bucket
	assert.Equal(map[string]int{AllPrintersBucket: 1}, subscriptionStats())

	// Case 2: add subscriptions
	assert.Nil(env.uut.HandleClientMessage(
		conn, []byte(`{"type": "subscribe", "printers": ["P1", "P2"]}`), env.ctxt,
	))
	assert.Equal(map[string]int{"P1": 1, "P2": 1}, subscriptionStats())

	// Case 3: unsubscribe one
	assert.Nil(env.uut.HandleClientMessage(
		conn, []byte(`{"type": "subscribe", "printers": ["P1"], "unsubscribe": true}`), env.ctxt,
	))
	assert.Equal(map[string]int{"P2": 1}, subscriptionStats())

	// Case 4: no printer list clears the set even with unsubscribe set
	assert.Nil(env.uut.HandleClientMessage(
		conn, []byte(`{"type": "subscribe", "printers": ["P2"]}`), env.ctxt,
	))
	assert.Nil(env.uut.HandleClientMessage(
		conn, []byte(`{"type": "subscribe", "unsubscribe": true}`), env.ctxt,
	))
	assert.Equal(map[string]int{AllPrintersBucket: 1}, subscriptionStats())

	// Mutations re-serialize onto the connection
	restored, ok := restoreSession(conn.Attachment())
	assert.True(ok)
	assert.Empty(restored.SubscribedPrinters)

	// Case 5: malformed payloads get coded errors, connection stays open
	assert.Nil(env.uut.HandleClientMessage(conn, []byte("not json"), env.ctxt))
	reply = conn.lastSent()
	assert.Equal("error", reply["type"])
	assert.Equal(ErrorCodeInvalidMessage, reply["code"])

	assert.Nil(env.uut.HandleClientMessage(conn, []byte(`{"type": "ping"}`), env.ctxt))
	reply = conn.lastSent()
	assert.Equal("error", reply["type"])
	assert.Equal(ErrorCodeUnknownMessageType, reply["code"])
	assert.False(conn.Closed())
}

func TestHubInstanceCapacityCeiling(t *testing.T) {
	assert := assert.New(t)

	env := instanceTestSetup(t, 3, time.Hour, time.Hour)

	for itr := 0; itr < 3; itr++ {
		env.attach(t)
	}
	assert.ErrorIs(env.uut.ReserveSlot(env.ctxt), ErrMaxClientsReached)

	// A departing connection frees capacity
	status, err := env.uut.ReportStatus(env.ctxt)
	assert.Nil(err)
	assert.Equal(3, status.TotalConnections)
	assert.Equal(3, status.MaxClients)
}

func TestHubInstanceBroadcastDelivery(t *testing.T) {
	assert := assert.New(t)

	env := instanceTestSetup(t, 10, time.Hour, time.Hour)

	receiveAll := env.attach(t)
	p1Only := env.attach(t)
	unauthenticated := env.attach(t)

	env.verifier.RecordSession(auth.SessionRecord{
		Token: "tok-all", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour),
	})
	env.verifier.RecordSession(auth.SessionRecord{
		Token: "tok-p1", UserID: "user-2", ExpiresAt: time.Now().Add(time.Hour),
	})
	env.verifier.RecordUser(auth.UserRecord{ID: "user-1"})
	env.verifier.RecordUser(auth.UserRecord{ID: "user-2"})
	env.verifier.RecordMembership("tenant-a", "user-1", true)
	env.verifier.RecordMembership("tenant-a", "user-2", true)

	assert.Nil(env.uut.HandleClientMessage(
		receiveAll, []byte(`{"type": "auth", "token": "tok-all"}`), env.ctxt,
	))
	assert.Nil(env.uut.HandleClientMessage(
		p1Only, []byte(`{"type": "auth", "token": "tok-p1"}`), env.ctxt,
	))
	assert.Nil(env.uut.HandleClientMessage(
		p1Only, []byte(`{"type": "subscribe", "printers": ["P1"]}`), env.ctxt,
	))

	baselineAll := receiveAll.sentCount()
	baselineP1 := p1Only.sentCount()

	// Case 1: printer_status for P2 reaches only the empty-set client
	reached, err := env.uut.IngestBroadcast(PrinterStatusEvent{
		Type: EventTypePrinterStatus, PrinterID: "P2", Status: "idle",
	}, env.ctxt)
	assert.Nil(err)
	assert.Equal(1, reached)

	// Case 2: printer_status for P1 reaches both
	reached, err = env.uut.IngestBroadcast(PrinterStatusEvent{
		Type: EventTypePrinterStatus, PrinterID: "P1", Status: "printing",
	}, env.ctxt)
	assert.Nil(err)
	assert.Equal(2, reached)

	// Case 3: new_order reaches every authenticated client
	reached, err = env.uut.IngestBroadcast(NewOrderEvent{
		Type: EventTypeNewOrder, OrderID: "O1", OrderNumber: "1001", Platform: "etsy",
	}, env.ctxt)
	assert.Nil(err)
	assert.Equal(2, reached)

	assert.Equal(baselineAll+3, receiveAll.sentCount())
	assert.Equal(baselineP1+2, p1Only.sentCount())
	assert.Equal(0, unauthenticated.sentCount())

	// Case 4: a closed connection drops out of the fan-out
	assert.Nil(receiveAll.Close(CloseCodeGoingAway, "test"))
	assert.Nil(env.uut.ConnectionClosed(receiveAll, env.ctxt))
	reached, err = env.uut.IngestBroadcast(HubStatusEvent{
		Type: EventTypeHubStatus, HubID: "H1", IsOnline: true,
	}, env.ctxt)
	assert.Nil(err)
	assert.Equal(1, reached)
}

func TestHubInstanceTimeoutEviction(t *testing.T) {
	assert := assert.New(t)

	env := instanceTestSetup(t, 10, time.Millisecond*100, time.Millisecond*150)

	authed := env.attach(t)
	pending := env.attach(t)

	env.recordValidUser("good", time.Now().Add(time.Hour))
	assert.Nil(env.uut.HandleClientMessage(
		authed, []byte(`{"type": "auth", "token": "good"}`), env.ctxt,
	))
	assert.Equal("auth_success", authed.lastSent()["type"])

	// The never-authenticated connection is evicted at the auth deadline
	time.Sleep(time.Millisecond * 200)

	assert.True(pending.Closed())
	assert.Equal(CloseCodeAuthTimeout, pending.closedCode())
	found := false
	for _, payload := range pending.sentPayloads() {
		var reply map[string]interface{}
		if err := json.Unmarshal(payload, &reply); err == nil {
			if reply["type"] == "auth_error" && reply["error"] == AuthErrTimeout {
				found = true
			}
		}
	}
	assert.True(found)

	assert.False(authed.Closed())
	status, err := env.uut.ReportStatus(env.ctxt)
	assert.Nil(err)
	assert.Equal(1, status.TotalConnections)
	assert.Equal(1, status.AuthenticatedConnections)
}

func TestHubInstanceSessionRestoreAfterWipe(t *testing.T) {
	assert := assert.New(t)

	env := instanceTestSetup(t, 10, time.Hour, time.Hour)
	conn := env.attach(t)

	env.recordValidUser("good", time.Now().Add(time.Hour))
	assert.Nil(env.uut.HandleClientMessage(
		conn, []byte(`{"type": "auth", "token": "good"}`), env.ctxt,
	))
	assert.Nil(env.uut.HandleClientMessage(
		conn, []byte(`{"type": "subscribe", "printers": ["P1"]}`), env.ctxt,
	))

	// Simulate the host discarding process memory while the connection and
	// its attachment survive
	impl, ok := env.uut.(*hubInstanceImpl)
	assert.True(ok)
	impl.sessions.Remove(conn)

	// Session state comes back from the attachment on the next operation
	status, err := env.uut.ReportStatus(env.ctxt)
	assert.Nil(err)
	assert.Equal(1, status.AuthenticatedConnections)
	assert.Equal(map[string]int{"P1": 1}, status.SubscriptionStats)

	reached, err := env.uut.IngestBroadcast(PrinterStatusEvent{
		Type: EventTypePrinterStatus, PrinterID: "P1", Status: "printing",
	}, env.ctxt)
	assert.Nil(err)
	assert.Equal(1, reached)
}

func TestHubInstanceTenantSlotFirstWriterWins(t *testing.T) {
	assert := assert.New(t)

	env := instanceTestSetup(t, 10, time.Hour, time.Hour)

	env.attach(t)
	var first tenantSlot
	assert.Nil(env.slots.Get(env.ctxt, "hub/tenant-a/tenant", &first))
	assert.Equal("tenant-a", first.TenantID)

	// Later connections never overwrite the original record
	time.Sleep(time.Millisecond * 10)
	env.attach(t)
	var second tenantSlot
	assert.Nil(env.slots.Get(env.ctxt, "hub/tenant-a/tenant", &second))
	assert.True(first.BoundAt.Equal(second.BoundAt))
}

func TestHubInstanceSweepAfterStop(t *testing.T) {
	assert := assert.New(t)

	env := instanceTestSetup(t, 10, time.Hour, time.Hour)

	env.attach(t)
	assert.Nil(env.uut.Stop(env.ctxt))

	// With the event loop stopped, the sweep can not inspect the registry;
	// it must report no connections so the supervision cycle goes idle
	impl, ok := env.uut.(*hubInstanceImpl)
	assert.True(ok)
	expired, cancel := context.WithCancel(env.ctxt)
	cancel()
	assert.Equal(0, impl.runTimeoutSweep(expired))
}
