// Package config handles configuration loading for nexcart-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then defaulted and validated. The command line looks for the
// file at NEXCART_CONFIG, then $XDG_CONFIG_HOME/nexcart/gateway.yaml, then
// ~/.config/nexcart/gateway.yaml.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}. Unset
// variables expand to the empty string:
//
//	completion:
//	  api_key: "${NEXCART_AI_KEY}"
//
// # Durations
//
// Duration values use time.ParseDuration syntax ("90s", "15m", "12h").
//
// # Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "/var/lib/nexcart/gateway.db"
//	auth:
//	  jwt_secret: "${NEXCART_JWT_SECRET}"   # at least 32 bytes
//	  nonce_ttl: "12h"
//	  agent_token_ttl: "24h"
//	store:
//	  name: "NexCart"
//	  url: "https://shop.example.com"
//	  currency: "৳"
//	completion:
//	  enabled: true
//	  api_key: "${NEXCART_AI_KEY}"
//	  model: "llama3-8b-8192"
//	  timeout: "30s"
//	chat:
//	  max_message_length: 1000
//	  rate_limit: 10
//	  rate_window: "1m"
//	  allowed_origins: ["https://shop.example.com"]
//	support:
//	  open_hour: 9
//	  close_hour: 21
//	  timezone: "Asia/Dhaka"
//	  activity_threshold: "15m"
//	mirror:
//	  driver: "local"          # local, redis, supabase
//	ratelimit:
//	  driver: "memory"         # memory, redis
//	redis:
//	  addr: "localhost:6379"
//	tailscale:
//	  enabled: false
//	  hostname: "nexcart-chat"
//	  funnel: false
//	logging:
//	  level: "info"            # debug, info, warn, error
//	  format: "text"           # text, json
//
// # Validation
//
// Validate rejects a missing listen address or database path, a token
// secret shorter than 32 bytes, inverted support hours, unknown timezones,
// unknown drivers and redis drivers without redis.addr.
package config
