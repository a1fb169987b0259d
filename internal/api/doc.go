// Package api provides the HTTP REST API and WebSocket stream of the cube
// server.
//
// Routes are served under /api/v1 and, apart from /health and the token
// exchange, require a bearer credential: either an API token or a JWT
// access token obtained from POST /auth/token.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
