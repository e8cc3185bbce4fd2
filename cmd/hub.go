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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/printfarm/streamhub/apis"
	"github.com/printfarm/streamhub/auth"
	"github.com/printfarm/streamhub/common"
	"github.com/printfarm/streamhub/core"
	"github.com/printfarm/streamhub/hub"
	"github.com/printfarm/streamhub/relay"
	"github.com/printfarm/streamhub/storage"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunHubServer run the broadcast hub server
func RunHubServer(
	runTimeContext context.Context,
	config *common.SystemConfig,
	instance string,
	postgres *core.PostgresClient,
	natsClient *core.NatsClient,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "hub-server",
		"instance":  instance,
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	verifier, err := auth.GetPostgresVerifier(postgres)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define auth verifier")
		return err
	}

	slots, err := storage.CreatePostgresKeyValueStore(localCtxt, postgres)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define key value store")
		return err
	}

	manager := hub.GetInstanceManager(config.Hub, verifier, slots, localCtxt, wg)

	var eventRelay relay.EventRelay
	if config.Relay.Enabled {
		if natsClient == nil {
			err := fmt.Errorf("relay enabled but no NATS client available")
			log.WithError(err).WithFields(logTags).Error("Unable to start event relay")
			return err
		}
		eventRelay, err = relay.GetEventRelay(
			natsClient, manager, config.Relay.SubjectPrefix, localCtxt,
		)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to define event relay")
			return err
		}
		if err := eventRelay.Start(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Unable to start event relay")
			return err
		}
	}

	httpHandler, err := apis.GetAPIRestHubHandler(
		manager, postgres, natsClient, &config.API.HTTPSetting, localCtxt,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.API.Endpoints.PathPrefix, nil)

	// Stream upgrade
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/hub/stream", map[string]http.HandlerFunc{
		"get": httpHandler.UpgradeToStreamHandler(),
	})

	// Broadcast ingestion and status
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/hub/{tenantID}/broadcast", map[string]http.HandlerFunc{
			"post": httpHandler.IngestBroadcastHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		mainRouter, "/v1/hub/{tenantID}/status", map[string]http.HandlerFunc{
			"get": httpHandler.GetHubStatusHandler(),
		},
	)

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverConfig := config.API.HTTPSetting.Server
	serverListen := fmt.Sprintf("%s:%d", serverConfig.ListenOn, serverConfig.Port)
	// No write timeout; upgraded stream responses stay open for the
	// websocket lifetime
	httpSrv := &http.Server{
		Addr:        serverListen,
		ReadTimeout: time.Second * time.Duration(serverConfig.ReadTimeout),
		IdleTimeout: time.Second * time.Duration(serverConfig.IdleTimeout),
		Handler:     h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the relay before tearing down instances
	if eventRelay != nil {
		if err := eventRelay.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during relay shutdown")
		}
	}

	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := manager.Stop(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during hub shutdown")
		}
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).WithFields(logTags).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
