// Package api serves the overlay over WebSocket and HTTP.
//
// Every connected session (control surfaces and render surfaces alike)
// receives the full snapshot on connect and again after every applied
// command. Commands from WebSocket sessions, the REST endpoint and the MQTT
// command topic all go through one writer goroutine, so snapshots leave the
// server in mutation order.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
