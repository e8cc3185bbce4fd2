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
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/printfarm/streamhub/auth"
	"github.com/printfarm/streamhub/common"
	"github.com/printfarm/streamhub/storage"
)

// AllPrintersBucket synthetic subscription_stats bucket counting clients
// with an empty subscription set
const AllPrintersBucket = "all_printers"

// Auth failure reasons sent back on auth_error replies
const (
	AuthErrTokenRequired    = "Token required"
	AuthErrInvalidToken     = "Invalid session token"
	AuthErrSessionExpired   = "Session expired"
	AuthErrUserNotFound     = "User not found"
	AuthErrTenantUnset      = "Tenant not configured"
	AuthErrNotTenantMember  = "User is not a member of this tenant"
	AuthErrUnexpected       = "Authentication failed"
	AuthErrTimeout          = "Authentication timeout"
	authTimeoutCloseReason  = "authentication timeout"
	shutdownCloseReason     = "hub shutting down"
)

// HubStatus point-in-time view of one hub instance
type HubStatus struct {
	// TenantID the tenant this instance serves
	TenantID string `json:"tenant_id"`
	// TotalConnections live connections, authenticated or not
	TotalConnections int `json:"total_connections"`
	// AuthenticatedConnections connections with a live session
	AuthenticatedConnections int `json:"authenticated_connections"`
	// UnauthenticatedConnections connections still pending auth
	UnauthenticatedConnections int `json:"unauthenticated_connections"`
	// SubscriptionStats client count per subscribed printer ID. Clients with
	// an empty set are counted under AllPrintersBucket.
	SubscriptionStats map[string]int `json:"subscription_stats"`
	// MaxClients the configured connection ceiling
	MaxClients int `json:"max_clients"`
}

// Instance one tenant's broadcast hub.
//
// All state mutation runs on the instance's single task-processor goroutine;
// the public methods submit requests into it and wait. Per-connection socket
// writes still proceed concurrently through each connection's send channel.
type Instance interface {
	// TenantID the tenant this instance serves
	TenantID() string
	// ReserveSlot claim one connection slot ahead of the websocket upgrade.
	// Returns ErrMaxClientsReached when the instance is at capacity.
	ReserveSlot(ctxt context.Context) error
	// ReleaseSlot return a reserved slot that never became a connection
	ReleaseSlot(ctxt context.Context) error
	// BindConnection turn a reserved slot into a live unauthenticated
	// connection and arm the timeout supervision cycle
	BindConnection(conn Connection, ctxt context.Context) error
	// HandleClientMessage process one raw payload received from a connection
	HandleClientMessage(conn Connection, payload []byte, ctxt context.Context) error
	// ConnectionClosed clean up after a connection closed or errored out
	ConnectionClosed(conn Connection, ctxt context.Context) error
	// IngestBroadcast fan one event out to matching authenticated
	// connections. Returns the number of connections written to.
	IngestBroadcast(event BroadcastEvent, ctxt context.Context) (int, error)
	// ReportStatus report the instance's current connection and
	// subscription state
	ReportStatus(ctxt context.Context) (HubStatus, error)
	// Stop stop the instance, closing all connections
	Stop(ctxt context.Context) error
}

// InstanceParams construction parameters for one hub instance
type InstanceParams struct {
	// TenantID the tenant to serve
	TenantID string
	// MaxClients connection ceiling
	MaxClients int
	// AuthTimeout grace period for a new connection to authenticate
	AuthTimeout time.Duration
	// HeartbeatInterval period between housekeeping sweeps
	HeartbeatInterval time.Duration
	// CollaboratorCallTimeout per-call budget for verifier and slot store
	CollaboratorCallTimeout time.Duration
	// Verifier resolves bearer tokens
	Verifier auth.Verifier
	// Slots durable key value slots
	Slots storage.KeyValueStore
}

// tenantSlot durable record pinning this instance to its tenant
type tenantSlot struct {
	TenantID string    `json:"tenant_id"`
	BoundAt  time.Time `json:"bound_at"`
}

// hubInstanceImpl implements Instance
type hubInstanceImpl struct {
	common.Component
	tenantID    string
	tp          common.TaskProcessor
	registry    *ConnectionRegistry
	sessions    *SessionStore
	router      *BroadcastRouter
	supervisor  *TimeoutSupervisor
	verifier    auth.Verifier
	slots       storage.KeyValueStore
	callTimeout time.Duration
	slotKey     string
}

// GetHubInstance define a new hub instance for one tenant and start its
// event loop
func GetHubInstance(
	params InstanceParams, ctxt context.Context, wg *sync.WaitGroup,
) (Instance, error) {
	logTags := log.Fields{
		"module": "hub", "component": "instance", "tenant": params.TenantID,
	}
	tp, err := common.GetNewTaskProcessorInstance(
		fmt.Sprintf("hub-instance-%s", params.TenantID), 64, ctxt,
	)
	if err != nil {
		return nil, err
	}
	instance := hubInstanceImpl{
		Component:   common.Component{LogTags: logTags},
		tenantID:    params.TenantID,
		tp:          tp,
		registry:    GetConnectionRegistry(params.TenantID, params.MaxClients),
		sessions:    GetSessionStore(params.TenantID),
		router:      GetBroadcastRouter(params.TenantID),
		verifier:    params.Verifier,
		slots:       params.Slots,
		callTimeout: params.CollaboratorCallTimeout,
		slotKey:     fmt.Sprintf("hub/%s/tenant", params.TenantID),
	}
	supervisor, err := GetTimeoutSupervisor(
		params.TenantID,
		params.AuthTimeout,
		params.HeartbeatInterval,
		func() int { return instance.runTimeoutSweep(ctxt) },
		ctxt,
		wg,
	)
	if err != nil {
		return nil, err
	}
	instance.supervisor = supervisor
	// Register tp message handlers
	if err := tp.SetTaskExecutionMap(map[reflect.Type]common.TaskHandler{
		reflect.TypeOf(instReserveSlotReq{}):   instance.processReserveSlot,
		reflect.TypeOf(instReleaseSlotReq{}):   instance.processReleaseSlot,
		reflect.TypeOf(instBindConnReq{}):      instance.processBindConnection,
		reflect.TypeOf(instClientMessageReq{}): instance.processClientMessage,
		reflect.TypeOf(instConnClosedReq{}):    instance.processConnectionClosed,
		reflect.TypeOf(instBroadcastReq{}):     instance.processBroadcast,
		reflect.TypeOf(instStatusReq{}):        instance.processStatus,
		reflect.TypeOf(instTimeoutSweepReq{}):  instance.processTimeoutSweep,
		reflect.TypeOf(instStopReq{}):          instance.processStop,
	}); err != nil {
		return nil, err
	}
	if err := tp.StartEventLoop(wg); err != nil {
		return nil, err
	}
	return &instance, nil
}

func (h *hubInstanceImpl) TenantID() string {
	return h.tenantID
}

// =========================================================================
// Slot reservation

type instReserveSlotReq struct {
	resultCB func(err error)
}

func (h *hubInstanceImpl) ReserveSlot(ctxt context.Context) error {
	resultChan := make(chan error, 1)
	request := instReserveSlotReq{resultCB: func(err error) { resultChan <- err }}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit slot reservation")
		return err
	}
	select {
	case result := <-resultChan:
		return result
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

func (h *hubInstanceImpl) processReserveSlot(param interface{}) error {
	request, ok := param.(instReserveSlotReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for slot reservation", reflect.TypeOf(param),
		)
	}
	err := h.registry.ReserveSlot()
	request.resultCB(err)
	return err
}

type instReleaseSlotReq struct {
	resultCB func(err error)
}

func (h *hubInstanceImpl) ReleaseSlot(ctxt context.Context) error {
	resultChan := make(chan error, 1)
	request := instReleaseSlotReq{resultCB: func(err error) { resultChan <- err }}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit slot release")
		return err
	}
	select {
	case result := <-resultChan:
		return result
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

func (h *hubInstanceImpl) processReleaseSlot(param interface{}) error {
	request, ok := param.(instReleaseSlotReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for slot release", reflect.TypeOf(param),
		)
	}
	h.registry.ReleaseSlot()
	request.resultCB(nil)
	return nil
}

// =========================================================================
// Connection binding

type instBindConnReq struct {
	timestamp time.Time
	conn      Connection
	resultCB  func(err error)
}

func (h *hubInstanceImpl) BindConnection(conn Connection, ctxt context.Context) error {
	resultChan := make(chan error, 1)
	request := instBindConnReq{
		timestamp: time.Now(),
		conn:      conn,
		resultCB:  func(err error) { resultChan <- err },
	}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Failed to submit connection %s bind", conn.ID(),
		)
		return err
	}
	select {
	case result := <-resultChan:
		return result
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

func (h *hubInstanceImpl) processBindConnection(param interface{}) error {
	request, ok := param.(instBindConnReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for connection bind", reflect.TypeOf(param),
		)
	}
	h.registry.Bind(request.conn)
	h.persistTenantSlot(request.timestamp)
	if err := h.supervisor.Arm(); err != nil {
		request.resultCB(err)
		return err
	}
	log.WithFields(h.LogTags).Infof(
		"Connection %s attached, %d live", request.conn.ID(), h.registry.Len(),
	)
	request.resultCB(nil)
	return nil
}

// persistTenantSlot record the tenant binding in the durable slot exactly
// once. A loser of the write race leaves the existing record untouched.
func (h *hubInstanceImpl) persistTenantSlot(timestamp time.Time) {
	callCtxt, cancel := context.WithTimeout(context.Background(), h.callTimeout)
	defer cancel()
	stored, err := h.slots.SetIfAbsent(
		callCtxt, h.slotKey, tenantSlot{TenantID: h.tenantID, BoundAt: timestamp},
	)
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Warn("Unable to persist tenant slot")
		return
	}
	if stored {
		log.WithFields(h.LogTags).Debug("Persisted tenant slot")
	}
}

// =========================================================================
// Client message handling

type instClientMessageReq struct {
	conn     Connection
	payload  []byte
	resultCB func(err error)
}

func (h *hubInstanceImpl) HandleClientMessage(
	conn Connection, payload []byte, ctxt context.Context,
) error {
	resultChan := make(chan error, 1)
	request := instClientMessageReq{
		conn:     conn,
		payload:  payload,
		resultCB: func(err error) { resultChan <- err },
	}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Failed to submit message from connection %s", conn.ID(),
		)
		return err
	}
	select {
	case result := <-resultChan:
		return result
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

func (h *hubInstanceImpl) processClientMessage(param interface{}) error {
	request, ok := param.(instClientMessageReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for client message", reflect.TypeOf(param),
		)
	}
	err := h.handleClientMessage(request.conn, request.payload)
	request.resultCB(err)
	return err
}

func (h *hubInstanceImpl) handleClientMessage(conn Connection, payload []byte) error {
	if conn.Closed() || !h.registry.Has(conn) {
		h.dropConnection(conn)
		return nil
	}
	h.sessions.Restore(h.registry.Snapshot())
	parsed, err := ParseClientMessage(payload)
	if err != nil {
		code := ErrorCodeInvalidMessage
		if errors.Is(err, ErrUnknownMessageType) {
			code = ErrorCodeUnknownMessageType
		}
		log.WithError(err).WithFields(h.LogTags).Debugf(
			"Rejected payload from connection %s", conn.ID(),
		)
		return conn.SendJSON(NewErrorMessage(code, err.Error()))
	}
	switch msg := parsed.(type) {
	case AuthRequest:
		return h.handleAuthRequest(conn, msg)
	case SubscribeRequest:
		return h.handleSubscribeRequest(conn, msg)
	default:
		return conn.SendJSON(NewErrorMessage(
			ErrorCodeUnknownMessageType, fmt.Sprintf("unsupported message %s", msg.MessageType()),
		))
	}
}

// handleAuthRequest walk the verification ladder for one auth attempt.
//
// Every failure, expected or not, degrades to an auth_error reply with the
// connection left open and unauthenticated.
func (h *hubInstanceImpl) handleAuthRequest(conn Connection, msg AuthRequest) error {
	if msg.Token == "" {
		return conn.SendJSON(NewAuthErrorMessage(AuthErrTokenRequired))
	}
	callCtxt, cancel := context.WithTimeout(context.Background(), h.callTimeout)
	defer cancel()
	now := time.Now()
	record, err := h.verifier.GetSessionByToken(callCtxt, msg.Token)
	if err != nil {
		if errors.Is(err, auth.ErrRecordNotFound) {
			return conn.SendJSON(NewAuthErrorMessage(AuthErrInvalidToken))
		}
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Session lookup failed for connection %s", conn.ID(),
		)
		return conn.SendJSON(NewAuthErrorMessage(AuthErrUnexpected))
	}
	if record.ExpiresAt.Before(now) {
		return conn.SendJSON(NewAuthErrorMessage(AuthErrSessionExpired))
	}
	user, err := h.verifier.GetUserByID(callCtxt, record.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrRecordNotFound) {
			return conn.SendJSON(NewAuthErrorMessage(AuthErrUserNotFound))
		}
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"User lookup failed for connection %s", conn.ID(),
		)
		return conn.SendJSON(NewAuthErrorMessage(AuthErrUnexpected))
	}
	var slot tenantSlot
	if err := h.slots.Get(callCtxt, h.slotKey, &slot); err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return conn.SendJSON(NewAuthErrorMessage(AuthErrTenantUnset))
		}
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Tenant slot read failed for connection %s", conn.ID(),
		)
		return conn.SendJSON(NewAuthErrorMessage(AuthErrUnexpected))
	}
	member, err := h.verifier.IsTenantMember(callCtxt, slot.TenantID, user.ID)
	if err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Membership check failed for connection %s", conn.ID(),
		)
		return conn.SendJSON(NewAuthErrorMessage(AuthErrUnexpected))
	}
	if !member {
		return conn.SendJSON(NewAuthErrorMessage(AuthErrNotTenantMember))
	}
	session := NewClientSession(user.ID, user.Email, user.Name, slot.TenantID, now)
	if err := h.sessions.Install(conn, session); err != nil {
		return conn.SendJSON(NewAuthErrorMessage(AuthErrUnexpected))
	}
	log.WithFields(h.LogTags).Infof(
		"Connection %s authenticated as user %s", conn.ID(), user.ID,
	)
	return conn.SendJSON(NewAuthSuccessMessage())
}

func (h *hubInstanceImpl) handleSubscribeRequest(conn Connection, msg SubscribeRequest) error {
	session, ok := h.sessions.Lookup(conn)
	if !ok {
		return conn.SendJSON(NewErrorMessage(
			ErrorCodeNotAuthenticated, "Authenticate before managing subscriptions",
		))
	}
	// A missing or unusable printer list clears the whole set regardless of
	// the unsubscribe flag; both "subscribe to all" and "unsubscribe from
	// all" collapse to the same empty-set state.
	switch {
	case !msg.HasPrinters:
		session.ClearSubscriptions()
	case msg.Unsubscribe:
		session.RemoveSubscriptions(msg.Printers)
	default:
		session.AddSubscriptions(msg.Printers)
	}
	return h.sessions.Persist(conn)
}

// =========================================================================
// Connection teardown

type instConnClosedReq struct {
	conn     Connection
	resultCB func(err error)
}

func (h *hubInstanceImpl) ConnectionClosed(conn Connection, ctxt context.Context) error {
	resultChan := make(chan error, 1)
	request := instConnClosedReq{
		conn:     conn,
		resultCB: func(err error) { resultChan <- err },
	}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Failed to submit connection %s teardown", conn.ID(),
		)
		return err
	}
	select {
	case result := <-resultChan:
		return result
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

func (h *hubInstanceImpl) processConnectionClosed(param interface{}) error {
	request, ok := param.(instConnClosedReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for connection teardown", reflect.TypeOf(param),
		)
	}
	h.dropConnection(request.conn)
	request.resultCB(nil)
	return nil
}

func (h *hubInstanceImpl) dropConnection(conn Connection) {
	if h.registry.Remove(conn) {
		log.WithFields(h.LogTags).Infof(
			"Connection %s detached, %d live", conn.ID(), h.registry.Len(),
		)
	}
	h.sessions.Remove(conn)
}

// =========================================================================
// Broadcast ingestion

type instBroadcastReq struct {
	event    BroadcastEvent
	resultCB func(written int, err error)
}

func (h *hubInstanceImpl) IngestBroadcast(
	event BroadcastEvent, ctxt context.Context,
) (int, error) {
	type broadcastResult struct {
		written int
		err     error
	}
	resultChan := make(chan broadcastResult, 1)
	request := instBroadcastReq{
		event: event,
		resultCB: func(written int, err error) {
			resultChan <- broadcastResult{written: written, err: err}
		},
	}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Errorf(
			"Failed to submit %s broadcast", event.EventType(),
		)
		return 0, err
	}
	select {
	case result := <-resultChan:
		return result.written, result.err
	case <-ctxt.Done():
		return 0, ctxt.Err()
	}
}

func (h *hubInstanceImpl) processBroadcast(param interface{}) error {
	request, ok := param.(instBroadcastReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for broadcast", reflect.TypeOf(param),
		)
	}
	conns := h.registry.Snapshot()
	h.sessions.Restore(conns)
	written := h.router.Route(request.event, conns, h.sessions)
	request.resultCB(written, nil)
	return nil
}

// =========================================================================
// Status reporting

type instStatusReq struct {
	resultCB func(status HubStatus)
}

func (h *hubInstanceImpl) ReportStatus(ctxt context.Context) (HubStatus, error) {
	resultChan := make(chan HubStatus, 1)
	request := instStatusReq{resultCB: func(status HubStatus) { resultChan <- status }}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit status query")
		return HubStatus{}, err
	}
	select {
	case result := <-resultChan:
		return result, nil
	case <-ctxt.Done():
		return HubStatus{}, ctxt.Err()
	}
}

func (h *hubInstanceImpl) processStatus(param interface{}) error {
	request, ok := param.(instStatusReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for status query", reflect.TypeOf(param),
		)
	}
	conns := h.registry.Snapshot()
	h.sessions.Restore(conns)
	status := HubStatus{
		TenantID:          h.tenantID,
		TotalConnections:  len(conns),
		SubscriptionStats: make(map[string]int),
		MaxClients:        h.registry.MaxClients(),
	}
	for _, conn := range conns {
		session, ok := h.sessions.Lookup(conn)
		if !ok {
			continue
		}
		status.AuthenticatedConnections++
		if len(session.SubscribedPrinters) == 0 {
			status.SubscriptionStats[AllPrintersBucket]++
			continue
		}
		for printerID := range session.SubscribedPrinters {
			status.SubscriptionStats[printerID]++
		}
	}
	status.UnauthenticatedConnections = status.TotalConnections - status.AuthenticatedConnections
	request.resultCB(status)
	return nil
}

// =========================================================================
// Timeout sweep

type instTimeoutSweepReq struct {
	resultCB func(remaining int)
}

// runTimeoutSweep entry point for the timeout supervisor. Returns the
// number of connections remaining after the sweep.
func (h *hubInstanceImpl) runTimeoutSweep(ctxt context.Context) int {
	resultChan := make(chan int, 1)
	request := instTimeoutSweepReq{resultCB: func(remaining int) { resultChan <- remaining }}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit timeout sweep")
		// The registry is only touched from the task processor loop; report no
		// connections rather than read it from here
		return 0
	}
	select {
	case result := <-resultChan:
		return result
	case <-ctxt.Done():
		return 0
	}
}

func (h *hubInstanceImpl) processTimeoutSweep(param interface{}) error {
	request, ok := param.(instTimeoutSweepReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for timeout sweep", reflect.TypeOf(param),
		)
	}
	conns := h.registry.Snapshot()
	h.sessions.Restore(conns)
	evicted := 0
	for _, conn := range conns {
		if conn.Closed() {
			h.dropConnection(conn)
			continue
		}
		if _, ok := h.sessions.Lookup(conn); ok {
			continue
		}
		if err := conn.SendJSON(NewAuthErrorMessage(AuthErrTimeout)); err != nil {
			log.WithError(err).WithFields(h.LogTags).Debugf(
				"Unable to notify connection %s before eviction", conn.ID(),
			)
		}
		if err := conn.Close(CloseCodeAuthTimeout, authTimeoutCloseReason); err != nil {
			log.WithError(err).WithFields(h.LogTags).Warnf(
				"Unable to close connection %s", conn.ID(),
			)
		}
		h.dropConnection(conn)
		evicted++
	}
	remaining := h.registry.Len()
	if evicted > 0 {
		log.WithFields(h.LogTags).Infof(
			"Evicted %d unauthenticated connections, %d remain", evicted, remaining,
		)
	}
	request.resultCB(remaining)
	return nil
}

// =========================================================================
// Shutdown

type instStopReq struct {
	resultCB func(err error)
}

func (h *hubInstanceImpl) Stop(ctxt context.Context) error {
	resultChan := make(chan error, 1)
	request := instStopReq{resultCB: func(err error) { resultChan <- err }}
	if err := h.tp.Submit(request, ctxt); err != nil {
		log.WithError(err).WithFields(h.LogTags).Error("Failed to submit instance stop")
		return err
	}
	var err error
	select {
	case result := <-resultChan:
		err = result
	case <-ctxt.Done():
		err = ctxt.Err()
	}
	if stopErr := h.tp.StopEventLoop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

func (h *hubInstanceImpl) processStop(param interface{}) error {
	request, ok := param.(instStopReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for instance stop", reflect.TypeOf(param),
		)
	}
	h.supervisor.Disarm()
	for _, conn := range h.registry.Snapshot() {
		if err := conn.Close(CloseCodeGoingAway, shutdownCloseReason); err != nil {
			log.WithError(err).WithFields(h.LogTags).Debugf(
				"Unable to close connection %s on shutdown", conn.ID(),
			)
		}
		h.dropConnection(conn)
	}
	log.WithFields(h.LogTags).Info("Instance stopped")
	request.resultCB(nil)
	return nil
}
