// Package cmd provides CLI commands for the tallying services.
//
// # Commands
//
// registry: Central service discovery. Node services and coordinators
// register their endpoints and keys; voters look them up.
//
//	go run ./cmd/registry --addr=:8080 --admin-token=admin:secret
//
// coordinator: Election lifecycle driver. Creates instances, distributes
// sealed mask material to nodes, and reveals tallies.
//
//	go run ./cmd/coordinator --registry=http://localhost:8080
//
// node: Holds one additive mask per instance and folds incoming vote shares
// into a partial result. Individual shares never leave the node.
//
//	go run ./cmd/node --node-id=node-a --registry=http://localhost:8080
//
// vote: CLI for creating elections, casting votes and revealing tallies.
//
//	go run ./cmd/vote create -c http://localhost:8082 -q "Ship it?" -v 4
//	go run ./cmd/vote cast -r http://localhost:8080 -e <id> --value=1
//	go run ./cmd/vote close -c http://localhost:8082 -e <id>
//
// # Configuration
//
// All service commands support YAML configuration files via the --config
// flag. Command-line flags override config file values.
//
// Example config for a node:
//
//	http_addr: ":8081"
//	registry_url: "http://localhost:8080"
//	keys:
//	  signing_key: ""
//	  exchange_key: ""
//	node:
//	  node_id: "node-a"
//	  coordinator_key: ""
package cmd
