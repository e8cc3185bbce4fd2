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
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/printfarm/streamhub/auth"
	"github.com/printfarm/streamhub/common"
	"github.com/printfarm/streamhub/storage"
)

// InstanceManager deterministic tenant ID to hub instance mapping.
//
// Each tenant gets at most one instance per process; instances are built
// lazily on first access and live until Stop.
type InstanceManager interface {
	// Instance fetch or build the hub instance for a tenant
	Instance(tenantID string) (Instance, error)
	// Stop stop all instances
	Stop(ctxt context.Context) error
}

// instanceManagerImpl implements InstanceManager
type instanceManagerImpl struct {
	common.Component
	hubConfig common.HubConfig
	verifier  auth.Verifier
	slots     storage.KeyValueStore
	rootCtxt  context.Context
	wg        *sync.WaitGroup
	instances map[string]Instance
	lock      sync.Mutex
}

// GetInstanceManager define a new hub instance manager
func GetInstanceManager(
	hubConfig common.HubConfig,
	verifier auth.Verifier,
	slots storage.KeyValueStore,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
) InstanceManager {
	logTags := log.Fields{"module": "hub", "component": "instance-manager"}
	return &instanceManagerImpl{
		Component: common.Component{LogTags: logTags},
		hubConfig: hubConfig,
		verifier:  verifier,
		slots:     slots,
		rootCtxt:  rootCtxt,
		wg:        wg,
		instances: make(map[string]Instance),
	}
}

func (m *instanceManagerImpl) Instance(tenantID string) (Instance, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if instance, ok := m.instances[tenantID]; ok {
		return instance, nil
	}
	instance, err := GetHubInstance(InstanceParams{
		TenantID:          tenantID,
		MaxClients:        m.hubConfig.MaxClients,
		AuthTimeout:       time.Millisecond * time.Duration(m.hubConfig.AuthTimeout),
		HeartbeatInterval: time.Millisecond * time.Duration(m.hubConfig.HeartbeatInterval),
		CollaboratorCallTimeout: time.Second * time.Duration(
			m.hubConfig.CollaboratorCallTimeout,
		),
		Verifier: m.verifier,
		Slots:    m.slots,
	}, m.rootCtxt, m.wg)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Unable to build hub instance for tenant %s", tenantID,
		)
		return nil, err
	}
	log.WithFields(m.LogTags).Infof("Built hub instance for tenant %s", tenantID)
	m.instances[tenantID] = instance
	return instance, nil
}

func (m *instanceManagerImpl) Stop(ctxt context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	var lastErr error
	for tenantID, instance := range m.instances {
		if err := instance.Stop(ctxt); err != nil {
			log.WithError(err).WithFields(m.LogTags).Errorf(
				"Unable to stop hub instance for tenant %s", tenantID,
			)
			lastErr = err
		}
	}
	m.instances = make(map[string]Instance)
	return lastErr
}
