// Package config loads the configuration of a modshell host.
//
// A host is configured from a YAML, JSON or TOML file, with every key
// overridable through MODSHELL_* environment variables:
//
//	log:
//	  level: debug
//	  file_path: /var/log/host/modshell.log
//	registration:
//	  max_concurrency: 4
//	  loader_retry:
//	    max_attempts: 3
//	    initial_backoff: 250ms
//	remotes:
//	  - name: shop
//	  - name: account
//	journal:
//	  driver: sqlite
//	  path: /var/lib/host/journal.db
//	host:
//	  base_path: /app
//
// The host section is handed to every register function as a Values.
package config
