// Package auth protects the bridge's local HTTP API.
//
// Operators are listed in the config file with an Argon2id password hash
// and a role. A successful login returns a short-lived HS256 JWT carrying
// the role; every protected request is checked against a static
// role-permission table, with no database lookup.
//
// Roles, lowest to highest:
//   - viewer: read status, devices, flash history and the event stream
//   - operator: viewer plus device writes and transport reconnects
//   - installer: operator plus the firmware config menu and the audit log
package auth
