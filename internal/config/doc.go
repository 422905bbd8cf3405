// Package config loads chiprank configuration from YAML with environment
// overrides.
//
// # Resolution Order
//
// Values resolve in this order, later entries winning:
//
//  1. DefaultConfig
//  2. the YAML file given to Load (a missing file is not an error)
//  3. CHIPRANK_* environment variables
//
// API keys are read from JINA_API_KEY or OPENAI_API_KEY for the selected
// provider when the file does not set one. Save never writes a key back.
//
// # Example
//
//	database:
//	  path: ~/.chiprank/chiprank.db
//	embedding:
//	  provider: local
//	ranking:
//	  candidate_pool: 30
//	  default_limit: 5
//	index:
//	  backend: memory
//	  cache_size: 1000
//	  cache_ttl: 1h
//	  refresh_interval: 5s
//	logging:
//	  level: debug
//	  format: console
package config
