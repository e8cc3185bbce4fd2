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

	"github.com/apex/log"
	"github.com/printfarm/streamhub/common"
)

// BroadcastRouter fans one event out to the connections whose session
// subscription matches the event's routing predicate
type BroadcastRouter struct {
	common.Component
}

// GetBroadcastRouter define a new broadcast router
func GetBroadcastRouter(tenantID string) *BroadcastRouter {
	logTags := log.Fields{
		"module": "hub", "component": "broadcast-router", "tenant": tenantID,
	}
	return &BroadcastRouter{Component: common.Component{LogTags: logTags}}
}

// Route deliver the event to every matching authenticated connection.
//
// Unauthenticated connections never receive broadcasts. A failed write to
// one connection is logged and skipped; its cleanup belongs to that
// connection's own close path, not this fan-out. Returns the number of
// connections actually written to.
func (r *BroadcastRouter) Route(
	event BroadcastEvent, conns []Connection, sessions *SessionStore,
) int {
	payload, err := json.Marshal(event)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf(
			"Unable to serialize %s event", event.EventType(),
		)
		return 0
	}
	written := 0
	for _, conn := range conns {
		session, ok := sessions.Lookup(conn)
		if !ok {
			continue
		}
		if !event.MatchesSubscription(session.SubscribedPrinters) {
			continue
		}
		if err := conn.Send(payload); err != nil {
			log.WithError(err).WithFields(r.LogTags).Warnf(
				"Dropped %s event for connection %s", event.EventType(), conn.ID(),
			)
			continue
		}
		written++
	}
	log.WithFields(r.LogTags).Debugf(
		"Delivered %s event to %d of %d connections", event.EventType(), written, len(conns),
	)
	return written
}
