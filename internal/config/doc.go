// Package config handles configuration loading for vigil-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${VIGIL_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	  heartbeat_interval: "15s"
//	  heartbeat_timeout: "45s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Agent and console websockets, REST API
//
// Database:
//
//	database:
//	  path: "/var/lib/vigil/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${VIGIL_JWT_SECRET}"     # Required
//	  agent_key_hash: "${VIGIL_AGENT_KEY}"  # bcrypt hash; empty disables agent auth
//
// Command dispatch:
//
//	commands:
//	  ack_timeout: "30s"
//	  offline_policy: "queue"   # queue, drop
//	  offline_queue_size: 100
//
// Sessions and transfers:
//
//	sessions:
//	  start_timeout: "15s"
//	transfers:
//	  accept_timeout: "30s"
//
// Rate limits:
//
//	limits:
//	  command_rate: 10    # commands per second per console
//	  command_burst: 20
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
