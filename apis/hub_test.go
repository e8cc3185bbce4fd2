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

package apis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/printfarm/streamhub/auth"
	"github.com/printfarm/streamhub/common"
	"github.com/printfarm/streamhub/hub"
	"github.com/printfarm/streamhub/storage"
)

type hubAPITestEnv struct {
	server   *httptest.Server
	verifier *auth.InMemoryVerifier
}

func hubAPITestSetup(t *testing.T, maxClients int) *hubAPITestEnv {
	t.Helper()
	wg := &sync.WaitGroup{}
	ctxt, cancel := context.WithCancel(context.Background())

	verifier := auth.GetInMemoryVerifier()
	slots := storage.CreateInMemoryKeyValueStore()
	manager := hub.GetInstanceManager(common.HubConfig{
		MaxClients:              maxClients,
		AuthTimeout:             30000,
		HeartbeatInterval:       60000,
		CollaboratorCallTimeout: 5,
	}, verifier, slots, ctxt, wg)

	httpConfig := common.HTTPConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "Streamhub-Request-ID"},
	}
	handler, err := GetAPIRestHubHandler(manager, nil, nil, &httpConfig, ctxt)
	assert.Nil(t, err)

	router := mux.NewRouter()
	_ = RegisterPathPrefix(router, "/v1/hub/stream", map[string]http.HandlerFunc{
		"get": handler.UpgradeToStreamHandler(),
	})
	_ = RegisterPathPrefix(
		router, "/v1/hub/{tenantID}/broadcast", map[string]http.HandlerFunc{
			"post": handler.IngestBroadcastHandler(),
		},
	)
	_ = RegisterPathPrefix(
		router, "/v1/hub/{tenantID}/status", map[string]http.HandlerFunc{
			"get": handler.GetHubStatusHandler(),
		},
	)
	_ = RegisterPathPrefix(router, "/alive", map[string]http.HandlerFunc{
		"get": handler.AliveHandler(),
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		cancel()
		wg.Wait()
	})
	return &hubAPITestEnv{server: server, verifier: verifier}
}

func (e *hubAPITestEnv) streamURL(tenantID string) string {
	base := "ws" + strings.TrimPrefix(e.server.URL, "http")
	if tenantID == "" {
		return base + "/v1/hub/stream"
	}
	return base + "/v1/hub/stream?tenant_id=" + tenantID
}

func (e *hubAPITestEnv) dial(t *testing.T, tenantID string) *ws.Conn {
	t.Helper()
	conn, resp, err := ws.DefaultDialer.Dial(e.streamURL(tenantID), nil)
	assert.Nil(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

func readJSONMessage(t *testing.T, conn *ws.Conn) map[string]interface{} {
	t.Helper()
	assert.Nil(t, conn.SetReadDeadline(time.Now().Add(time.Second*5)))
	_, payload, err := conn.ReadMessage()
	assert.Nil(t, err)
	var parsed map[string]interface{}
	assert.Nil(t, json.Unmarshal(payload, &parsed))
	return parsed
}

func TestHubAPIStreamLifecycle(t *testing.T) {
	assert := assert.New(t)

	env := hubAPITestSetup(t, 10)
	env.verifier.RecordSession(auth.SessionRecord{
		Token: "tok-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour),
	})
	env.verifier.RecordUser(auth.UserRecord{ID: "user-1", Email: "ops@example.com"})
	env.verifier.RecordMembership("tenant-a", "user-1", true)

	// Case 1: upgrade without tenant_id
	resp, err := http.Get(strings.Replace(env.streamURL(""), "ws", "http", 1))
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	assert.Nil(resp.Body.Close())

	// Case 2: connect, authenticate, subscribe
	conn := env.dial(t, "tenant-a")
	defer func() {
		assert.Nil(conn.Close())
	}()

	assert.Nil(conn.WriteJSON(map[string]string{"type": "auth", "token": "tok-1"}))
	reply := readJSONMessage(t, conn)
	assert.Equal("auth_success", reply["type"])

	assert.Nil(conn.WriteJSON(map[string]interface{}{
		"type": "subscribe", "printers": []string{"P1"},
	}))

	// Case 3: status reflects the authenticated client. Subscribe has no
	// ack, so poll until the mutation lands.
	statusURL := fmt.Sprintf("%s/v1/hub/tenant-a/status", env.server.URL)
	deadline := time.Now().Add(time.Second * 5)
	var status APIRestRespHubStatus
	for time.Now().Before(deadline) {
		resp, err = http.Get(statusURL)
		assert.Nil(err)
		assert.Equal(http.StatusOK, resp.StatusCode)
		assert.Nil(json.NewDecoder(resp.Body).Decode(&status))
		assert.Nil(resp.Body.Close())
		if status.Status.SubscriptionStats["P1"] == 1 {
			break
		}
		time.Sleep(time.Millisecond * 20)
	}
	assert.True(status.Success)
	assert.Equal("tenant-a", status.Status.TenantID)
	assert.Equal(1, status.Status.TotalConnections)
	assert.Equal(1, status.Status.AuthenticatedConnections)
	assert.Equal(map[string]int{"P1": 1}, status.Status.SubscriptionStats)

	// Case 4: broadcast reaches the subscribed client
	event := []byte(`{"type": "printer_status", "printer_id": "P1", "status": "printing"}`)
	resp, err = http.Post(
		fmt.Sprintf("%s/v1/hub/tenant-a/broadcast", env.server.URL),
		"application/json", bytes.NewReader(event),
	)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	var result APIRestRespBroadcastResult
	assert.Nil(json.NewDecoder(resp.Body).Decode(&result))
	assert.Nil(resp.Body.Close())
	assert.True(result.Success)
	assert.Equal(1, result.ClientsReached)

	delivered := readJSONMessage(t, conn)
	assert.Equal("printer_status", delivered["type"])
	assert.Equal("P1", delivered["printer_id"])

	// Case 5: broadcast for an unsubscribed printer reaches nobody
	event = []byte(`{"type": "printer_status", "printer_id": "P2", "status": "idle"}`)
	resp, err = http.Post(
		fmt.Sprintf("%s/v1/hub/tenant-a/broadcast", env.server.URL),
		"application/json", bytes.NewReader(event),
	)
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Nil(json.NewDecoder(resp.Body).Decode(&result))
	assert.Nil(resp.Body.Close())
	assert.Equal(0, result.ClientsReached)
}

func TestHubAPIBroadcastValidation(t *testing.T) {
	assert := assert.New(t)

	env := hubAPITestSetup(t, 10)
	broadcastURL := fmt.Sprintf("%s/v1/hub/tenant-a/broadcast", env.server.URL)

	for _, body := range []string{
		"not json",
		`{"type": "filament_change"}`,
		`{"type": "printer_status", "status": "idle"}`,
	} {
		resp, err := http.Post(broadcastURL, "application/json", strings.NewReader(body))
		assert.Nil(err, body)
		assert.Equal(http.StatusBadRequest, resp.StatusCode, body)
		assert.Nil(resp.Body.Close())
	}
}

func TestHubAPICapacityCeiling(t *testing.T) {
	assert := assert.New(t)

	env := hubAPITestSetup(t, 1)

	conn := env.dial(t, "tenant-a")
	defer func() {
		assert.Nil(conn.Close())
	}()

	// The ceiling rejects the next upgrade with a regular HTTP response
	_, resp, err := ws.DefaultDialer.Dial(env.streamURL("tenant-a"), nil)
	assert.ErrorIs(err, ws.ErrBadHandshake)
	assert.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	assert.Nil(resp.Body.Close())
}

func TestHubAPIAccessLogWriter(t *testing.T) {
	assert := assert.New(t)

	httpConfig := common.HTTPConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: "Streamhub-Request-ID"},
	}
	handler, err := GetAPIRestHubHandler(nil, nil, nil, &httpConfig, context.Background())
	assert.Nil(err)

	// The handler doubles as the access-log sink for the request logging
	// middleware
	var accessLog io.Writer = handler
	line := []byte(`127.0.0.1 - - "GET /alive HTTP/1.1" 200 0`)
	written, err := accessLog.Write(line)
	assert.Nil(err)
	assert.Equal(len(line), written)
}

func TestHubAPIAlive(t *testing.T) {
	assert := assert.New(t)

	env := hubAPITestSetup(t, 10)
	resp, err := http.Get(fmt.Sprintf("%s/alive", env.server.URL))
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Nil(resp.Body.Close())
}
