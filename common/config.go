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

package common

import "github.com/spf13/viper"

// ===============================================================================
// Postgres Related Config

// PostgresConfig defines parameters for connecting to the shared platform database
type PostgresConfig struct {
	// DSN is the Postgres connection string
	DSN string `mapstructure:"dsn" json:"dsn" validate:"required"`
	// ConnectTimeout is the max duration for connecting to Postgres in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// RelayConfig defines the NATS broadcast event relay parameters
type RelayConfig struct {
	// Enabled controls whether the NATS event relay is started
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// SubjectPrefix is the subject prefix producers publish broadcast events on.
	// The tenant ID is the final subject token: "<prefix>.<tenant_id>"
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
}

// ===============================================================================
// Hub Related Config

// HubConfig defines per-tenant hub instance parameters
type HubConfig struct {
	// MaxClients is the max number of concurrent client connections per tenant
	MaxClients int `mapstructure:"max_clients" json:"max_clients" validate:"required,gt=0"`
	// AuthTimeout is the duration a new connection is given to authenticate in ms
	AuthTimeout int `mapstructure:"auth_timeout_ms" json:"auth_timeout_ms" validate:"required,gte=1000"`
	// HeartbeatInterval is the duration between housekeeping sweeps in ms
	HeartbeatInterval int `mapstructure:"heartbeat_interval_ms" json:"heartbeat_interval_ms" validate:"required,gte=1000"`
	// CollaboratorCallTimeout is the max duration of one datastore call in seconds
	CollaboratorCallTimeout int `mapstructure:"collaborator_call_timeout_sec" json:"collaborator_call_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required,dive"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required,dive"`
}

// ===============================================================================
// API Server Related Config

// APIEndpointConfig defines API endpoint config
type APIEndpointConfig struct {
	// PathPrefix is the end-point path prefix for the APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// APIServerConfig defines configuration for the hub API server
type APIServerConfig struct {
	// HTTPSetting is the HTTP API / server parameters for the hub API server
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Endpoints is the API endpoint config parameters for the hub API server
	Endpoints APIEndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required,dive"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config for the hub server
type SystemConfig struct {
	// Postgres are the shared platform database config parameters
	Postgres PostgresConfig `mapstructure:"postgres" json:"postgres" validate:"required,dive"`
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Relay are the NATS broadcast event relay configs
	Relay RelayConfig `mapstructure:"relay" json:"relay" validate:"required,dive"`
	// Hub are the per-tenant hub instance configs
	Hub HubConfig `mapstructure:"hub" json:"hub" validate:"required,dive"`
	// API are the hub API server configs
	API APIServerConfig `mapstructure:"api,omitempty" json:"api,omitempty" validate:"required,dive"`
}

// ===============================================================================

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default Postgres settings
	viper.SetDefault("postgres.dsn", "postgres://127.0.0.1:5432/printfarm")
	viper.SetDefault("postgres.connect_timeout_sec", 30)

	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default relay settings
	viper.SetDefault("relay.enabled", false)
	viper.SetDefault("relay.subject_prefix", "printfarm.broadcast")

	// Default hub settings
	viper.SetDefault("hub.max_clients", 100)
	viper.SetDefault("hub.auth_timeout_ms", 30000)
	viper.SetDefault("hub.heartbeat_interval_ms", 60000)
	viper.SetDefault("hub.collaborator_call_timeout_sec", 5)

	// Default API server settings
	viper.SetDefault("api.endpoint_config.path_prefix", "/")
	viper.SetDefault("api.api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api.api_server.server_config.listen_port", 3000)
	viper.SetDefault("api.api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.write_timeout_sec", 60)
	viper.SetDefault("api.api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault(
		"api.api_server.logging_config.request_id_header", "Streamhub-Request-ID",
	)
	viper.SetDefault(
		"api.api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
		},
	)
}
