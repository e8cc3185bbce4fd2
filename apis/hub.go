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
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	ws "github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/printfarm/streamhub/common"
	"github.com/printfarm/streamhub/core"
	"github.com/printfarm/streamhub/hub"
)

// APIRestHubHandler REST handler for the broadcast hub
type APIRestHubHandler struct {
	APIRestHandler
	manager     hub.InstanceManager
	postgres    *core.PostgresClient
	natsClient  *core.NatsClient
	validate    *validator.Validate
	upgrader    ws.Upgrader
	connOptions hub.ConnectionOptions
	wsCtxt      context.Context
}

// GetAPIRestHubHandler define APIRestHubHandler.
//
// natsClient may be nil when the NATS relay is disabled; readiness then
// only covers the database.
func GetAPIRestHubHandler(
	manager hub.InstanceManager,
	postgres *core.PostgresClient,
	natsClient *core.NatsClient,
	httpConfig *common.HTTPConfig,
	wsCtxt context.Context,
) (APIRestHubHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "broadcast-hub",
	}
	return APIRestHubHandler{
		APIRestHandler: APIRestHandler{
			RestAPIHandler: goutils.RestAPIHandler{
				Component: goutils.Component{
					LogTags: logTags,
					LogTagModifiers: []goutils.LogMetadataModifier{
						goutils.ModifyLogMetadataByRestRequestParam,
					},
				},
				CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
				DoNotLogHeaders: func() map[string]bool {
					result := map[string]bool{}
					for _, v := range httpConfig.Logging.DoNotLogHeaders {
						result[v] = true
					}
					return result
				}(),
			},
		},
		manager:    manager,
		postgres:   postgres,
		natsClient: natsClient,
		validate:   validator.New(),
		upgrader: ws.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Cross-origin policy is enforced upstream at the platform gateway
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connOptions: hub.DefaultConnectionOptions(),
		wsCtxt:      wsCtxt,
	}, nil
}

// =======================================================================
// Stream upgrade

// UpgradeToStream godoc
// @Summary Open one client event stream
// @Description Upgrade the request to a websocket delivering broadcast events for a tenant
// @tags Hub
// @Produce json
// @Param Streamhub-Request-ID header string false "User provided request ID to match against logs"
// @Param tenant_id query string true "Tenant to stream events for"
// @Success 101 {string} string "protocol switch"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 503 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/hub/stream [get]
func (h APIRestHubHandler) UpgradeToStream(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		msg := "MISSING_TENANT"
		log.WithFields(localLogTags).Error("Stream upgrade request without tenant_id")
		respBody := h.GetStdRESTErrorMsg(
			r.Context(), http.StatusBadRequest, msg, "tenant_id query parameter required",
		)
		if err := h.WriteRESTResponse(w, http.StatusBadRequest, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	instance, err := h.manager.Instance(tenantID)
	if err != nil {
		msg := "Unable to access tenant hub"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respBody := h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		if err := h.WriteRESTResponse(
			w, http.StatusInternalServerError, respBody, nil,
		); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	// Claim a connection slot before touching the socket so an over-capacity
	// request can still receive a normal HTTP response
	if err := instance.ReserveSlot(r.Context()); err != nil {
		respCode := http.StatusInternalServerError
		msg := "Unable to reserve connection slot"
		if errors.Is(err, hub.ErrMaxClientsReached) {
			respCode = http.StatusServiceUnavailable
			msg = "Tenant hub at max client capacity"
		}
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respBody := h.GetStdRESTErrorMsg(r.Context(), respCode, msg, err.Error())
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		if err := instance.ReleaseSlot(r.Context()); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to release slot")
		}
		return
	}

	conn := hub.GetWebsocketConnection(h.wsCtxt, wsConn, h.connOptions)
	if err := instance.BindConnection(conn, r.Context()); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf(
			"Unable to attach connection %s", conn.ID(),
		)
		if err := instance.ReleaseSlot(r.Context()); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to release slot")
		}
		_ = conn.Close(ws.CloseInternalServerErr, "hub unavailable")
		return
	}

	// Blocks for the lifetime of the connection
	conn.Serve(func(payload []byte) {
		if err := instance.HandleClientMessage(conn, payload, h.wsCtxt); err != nil {
			log.WithError(err).WithFields(localLogTags).Debugf(
				"Message handling failed on connection %s", conn.ID(),
			)
		}
	}, func() {
		if err := instance.ConnectionClosed(conn, h.wsCtxt); err != nil {
			log.WithError(err).WithFields(localLogTags).Errorf(
				"Teardown failed for connection %s", conn.ID(),
			)
		}
	})
}

// UpgradeToStreamHandler Wrapper around UpgradeToStream
func (h APIRestHubHandler) UpgradeToStreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.UpgradeToStream(w, r)
	}
}

// =======================================================================
// Broadcast ingestion

// APIRestRespBroadcastResult response for one broadcast ingestion
type APIRestRespBroadcastResult struct {
	goutils.RestAPIBaseResponse
	// ClientsReached the number of connections the event was written to
	ClientsReached int `json:"clients_reached"`
}

// IngestBroadcast godoc
// @Summary Ingest one broadcast event
// @Description Fan one broadcast event out to a tenant's subscribed clients
// @tags Hub
// @Accept json
// @Produce json
// @Param Streamhub-Request-ID header string false "User provided request ID to match against logs"
// @Param tenantID path string true "Tenant to broadcast to"
// @Param event body hub.PrinterStatusEvent true "Broadcast event"
// @Success 200 {object} APIRestRespBroadcastResult "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/hub/{tenantID}/broadcast [post]
func (h APIRestHubHandler) IngestBroadcast(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	tenantID, ok := vars["tenantID"]
	if !ok || tenantID == "" {
		msg := "No tenant ID provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		msg := "Unable to read request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	event, err := hub.ParseBroadcastEvent(payload, h.validate)
	if err != nil {
		msg := "Invalid broadcast event"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	instance, err := h.manager.Instance(tenantID)
	if err != nil {
		msg := "Unable to access tenant hub"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	reached, err := instance.IngestBroadcast(event, r.Context())
	if err != nil {
		msg := "Broadcast fan-out failed"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespBroadcastResult{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, ClientsReached: reached,
	}
}

// IngestBroadcastHandler Wrapper around IngestBroadcast
func (h APIRestHubHandler) IngestBroadcastHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.IngestBroadcast(w, r)
	}
}

// =======================================================================
// Status query

// APIRestRespHubStatus response for one hub status query
type APIRestRespHubStatus struct {
	goutils.RestAPIBaseResponse
	// Status the tenant hub's current state
	Status hub.HubStatus `json:"status"`
}

// GetHubStatus godoc
// @Summary Query one tenant hub's status
// @Description Report connection counts and subscription stats for a tenant hub
// @tags Hub
// @Produce json
// @Param Streamhub-Request-ID header string false "User provided request ID to match against logs"
// @Param tenantID path string true "Tenant to query"
// @Success 200 {object} APIRestRespHubStatus "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/hub/{tenantID}/status [get]
func (h APIRestHubHandler) GetHubStatus(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	tenantID, ok := vars["tenantID"]
	if !ok || tenantID == "" {
		msg := "No tenant ID provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	instance, err := h.manager.Instance(tenantID)
	if err != nil {
		msg := "Unable to access tenant hub"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	status, err := instance.ReportStatus(r.Context())
	if err != nil {
		msg := "Status query failed"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(
			r.Context(), http.StatusInternalServerError, msg, err.Error(),
		)
		return
	}

	respCode = http.StatusOK
	respBody = APIRestRespHubStatus{
		RestAPIBaseResponse: goutils.RestAPIBaseResponse{
			Success: true, RequestID: h.ReadRequestIDFromContext(r.Context()),
		}, Status: status,
	}
}

// GetHubStatusHandler Wrapper around GetHubStatus
func (h APIRestHubHandler) GetHubStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetHubStatus(w, r)
	}
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For hub REST API liveness check
// @Description Will return success to indicate hub REST API module is live
// @tags Hub
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestHubHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestHubHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For hub REST API readiness check
// @Description Will return success if hub REST API module is ready for use
// @tags Hub
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestHubHandler) Ready(w http.ResponseWriter, r *http.Request) {
	msg := "not ready"
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	if err := h.postgres.Ready(r.Context()); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Database not ready")
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		return
	}
	if h.natsClient != nil && h.natsClient.NATs().Status() != nats.CONNECTED {
		log.WithFields(localLogTags).Error("NATS not ready")
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
		return
	}
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// ReadyHandler Wrapper around Ready
func (h APIRestHubHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
