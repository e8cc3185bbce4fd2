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

package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/nats-io/nats.go"
	"github.com/printfarm/streamhub/common"
	"github.com/printfarm/streamhub/core"
	"github.com/printfarm/streamhub/hub"
)

// EventRelay bridges broadcast events published on NATS into tenant hubs.
//
// Producers publish one BroadcastEvent JSON body per message on
// "<prefix>.<tenantID>". Delivery to clients stays best-effort; a message
// that fails to parse or fan out is logged and dropped.
type EventRelay interface {
	// Start begin consuming broadcast events
	Start() error
	// Stop stop consuming
	Stop() error
}

// eventRelayImpl implements EventRelay
type eventRelayImpl struct {
	common.Component
	natsClient    *core.NatsClient
	manager       hub.InstanceManager
	subjectPrefix string
	validate      *validator.Validate
	subscription  *nats.Subscription
	ctxt          context.Context
}

// GetEventRelay define a new broadcast event relay
func GetEventRelay(
	natsClient *core.NatsClient,
	manager hub.InstanceManager,
	subjectPrefix string,
	ctxt context.Context,
) (EventRelay, error) {
	if subjectPrefix == "" {
		return nil, fmt.Errorf("relay subject prefix must not be empty")
	}
	logTags := log.Fields{
		"module": "relay", "component": "nats-event-relay", "prefix": subjectPrefix,
	}
	return &eventRelayImpl{
		Component:     common.Component{LogTags: logTags},
		natsClient:    natsClient,
		manager:       manager,
		subjectPrefix: subjectPrefix,
		validate:      validator.New(),
		ctxt:          ctxt,
	}, nil
}

func (r *eventRelayImpl) Start() error {
	subject := fmt.Sprintf("%s.*", r.subjectPrefix)
	sub, err := r.natsClient.NATs().Subscribe(subject, r.handleMessage)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Unable to subscribe on %s", subject)
		return err
	}
	r.subscription = sub
	log.WithFields(r.LogTags).Infof("Relaying broadcast events from %s", subject)
	return nil
}

func (r *eventRelayImpl) Stop() error {
	if r.subscription == nil {
		return nil
	}
	if err := r.subscription.Unsubscribe(); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to unsubscribe")
		return err
	}
	r.subscription = nil
	return nil
}

func (r *eventRelayImpl) handleMessage(msg *nats.Msg) {
	tenantID := strings.TrimPrefix(msg.Subject, r.subjectPrefix+".")
	if tenantID == "" || strings.Contains(tenantID, ".") {
		log.WithFields(r.LogTags).Warnf("Dropped message on unexpected subject %s", msg.Subject)
		return
	}
	event, err := hub.ParseBroadcastEvent(msg.Data, r.validate)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Warnf(
			"Dropped malformed broadcast for tenant %s", tenantID,
		)
		return
	}
	instance, err := r.manager.Instance(tenantID)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Unable to access hub for tenant %s", tenantID,
		)
		return
	}
	reached, err := instance.IngestBroadcast(event, r.ctxt)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Fan-out failed for tenant %s", tenantID,
		)
		return
	}
	log.WithFields(r.LogTags).Debugf(
		"Relayed %s event to %d clients of tenant %s", event.EventType(), reached, tenantID,
	)
}
