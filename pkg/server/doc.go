// Package server exposes tabula's datasets over HTTP.
//
// # Routes
//
//	GET  /datasets                     configured datasets
//	GET  /exports/{dataset}            download (?format=, ?filename=, ?stream=true)
//	POST /exports/{dataset}/store      encode and store on a disk
//	POST /exports/{dataset}/queue      queue a store job (202 + Location)
//	GET  /jobs                         recent job statuses (?limit=)
//	GET  /jobs/{id}                    one job status
//	GET  /health, /ready, /version     probes and build info
//	GET  /metrics                      Prometheus metrics (path configurable)
//
// The store and queue routes accept an optional JSON body:
//
//	{"path": "reports/users.csv", "disk": "archive", "format": "csv",
//	 "visibility": "public", "chain": [{"name": "notify"}]}
//
// Downloads are spooled before the first byte is sent, so encoding failures
// still produce a JSON error and range requests are honoured. With
// stream=true the document is encoded straight into the response instead.
//
// # Middleware
//
// Requests pass through recovery, request ID, logging and metrics, in that
// order. The request ID comes from X-Request-ID or is generated, and is
// attached to every log line of the request.
package server
