// Package auth provides JWT issuance and validation for the brokerpilot
// admin API.
//
// The surface it protects is small: mark-unavailable/restore overrides and
// a live metrics feed over a handful of MQTT brokers, not a multi-tenant
// system. So the model is deliberately thin compared to a full user
// system: one dev-only credential pair configured via Security.JWT,
// exchanged at POST /api/v1/auth/login for a short-lived HS256 token
// carrying RoleAdmin. There is no refresh-token rotation or persistent
// session store — a caller whose token expires logs in again.
package auth
