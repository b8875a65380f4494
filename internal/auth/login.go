package auth

import "crypto/subtle"

// Credentials holds the single dev-only admin login configured for the
// admin API. There is no user store: brokerpilot protects a control
// surface over a handful of MQTT brokers, not a multi-tenant system.
type Credentials struct {
	Username string
	Password string
}

// Login checks username/password against cfg using a constant-time
// comparison and, on success, mints an access token with RoleAdmin.
func Login(username, password string, cfg Credentials, jwtSecret string, ttlMinutes int) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(cfg.Password)) == 1
	if !userOK || !passOK {
		return "", ErrInvalidCredentials
	}
	return GenerateAccessToken(username, RoleAdmin, jwtSecret, ttlMinutes)
}
