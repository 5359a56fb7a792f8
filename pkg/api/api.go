// Package api holds the JSON schemas of the node's HTTP API and a typed
// client for it.
package api
