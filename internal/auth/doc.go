// Package auth issues and verifies the credentials used by the cube server.
//
// Two kinds of credential exist:
//   - API tokens: 32 hex character secrets minted from a random UUID. Cubes
//     receive one during provisioning (owner "cube:<id>") and operators mint
//     their own through the API. Only the SHA-256 hash is stored; the raw
//     value is shown once.
//   - Access tokens: short-lived HS256 JWTs obtained by exchanging an API
//     token. They are validated by signature only.
package auth
