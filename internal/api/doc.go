// Package api provides the bridge's HTTP status server.
//
// Routes:
//
//	GET /health                      component probes; 503 while MQTT is down
//	GET /metrics                     Prometheus exposition
//	GET /api/v1/dead-letters?limit=N dead-letter journal, newest first
//	GET /api/v1/dead-letters/{id}    one dead-letter entry
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// There is no authentication. Bind it to localhost or a management network.
package api
