// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the sentinel service.
//
// This package contains middleware for authentication, authorization,
// rate limiting, and request metrics. Authentication is static-key based:
// every key in the Keyring maps to exactly one role in the hierarchy
//
//	viewer < analyst < operator < admin
//
// # Authentication Flow
//
// The auth middleware extracts an API key from the request, resolves it
// against the Keyring, and stores the resulting Identity in the Gin
// context for downstream handlers.
//
//	Request
//	   │
//	   ▼
//	Authenticate
//	   │
//	   ├─► Extract key from "Authorization: Bearer <key>" or "X-API-Key"
//	   │
//	   ├─► ring.Lookup(key)
//	   │
//	   └─► Store Identity in context
//	           │
//	           ▼
//	RequireRole(min)
//	   │
//	   └─► 403 unless identity.Role ranks at or above min
//	           │
//	           ▼
//	       Handler (retrieves via GetIdentity)
//
// When authentication is disabled in the service configuration neither
// middleware is installed and GetIdentity returns nil; handlers that
// record an actor fall back to a local placeholder.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// =============================================================================
// Roles
// =============================================================================

// Role is an access tier granted to an API key.
//
// Roles form a strict hierarchy; a key holding a higher role passes every
// check a lower role would pass.
type Role string

const (
	// RoleViewer grants read access to components, telemetry, and events.
	RoleViewer Role = "viewer"

	// RoleAnalyst adds event summaries and baseline resets.
	RoleAnalyst Role = "analyst"

	// RoleOperator adds telemetry ingest, simulations, patch rollouts,
	// and control dispatch.
	RoleOperator Role = "operator"

	// RoleAdmin adds component registration and removal.
	RoleAdmin Role = "admin"
)

// roleRanks orders the hierarchy. Unknown roles rank zero and therefore
// never satisfy a threshold.
var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleAnalyst:  2,
	RoleOperator: 3,
	RoleAdmin:    4,
}

// ParseRole converts a config string into a Role.
//
// Returns an error for anything outside the four known tiers so a typo in
// a key binding is caught at startup rather than silently granting or
// denying access.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRanks[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether the role is one of the four known tiers.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// AtLeast reports whether the role ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return roleRanks[r] >= roleRanks[min] && roleRanks[r] > 0
}

// String returns the role name as stored in configuration.
func (r Role) String() string { return string(r) }

// =============================================================================
// Identity and Context Helpers
// =============================================================================

// identityKey is the context key for storing the caller Identity.
// Using a dedicated key prevents collisions with other context values.
const identityKey = "sentinel_identity"

// Identity describes an authenticated caller.
//
// KeyID is a short SHA-256 fingerprint of the API key, safe to log and
// to record as the actor on audit events. The raw key never leaves the
// Keyring.
type Identity struct {
	KeyID string
	Role  Role
}

// SetIdentity stores the authenticated caller in the Gin context.
//
// Called by Authenticate after a successful Keyring lookup. Handlers
// retrieve the value via GetIdentity.
func SetIdentity(c *gin.Context, id Identity) {
	c.Set(identityKey, id)
}

// GetIdentity retrieves the authenticated caller from the Gin context.
//
// Returns nil if the request was not authenticated or the stored value
// has the wrong type.
//
// # Thread Safety
//
// Safe to call concurrently (Gin context is request-scoped).
func GetIdentity(c *gin.Context) *Identity {
	if v, exists := c.Get(identityKey); exists {
		if id, ok := v.(Identity); ok {
			return &id
		}
	}
	return nil
}

// =============================================================================
// Keyring
// =============================================================================

// Keyring resolves raw API keys to caller identities.
//
// The ring is immutable after construction, so lookups need no locking.
type Keyring struct {
	keys map[string]Identity
}

// NewKeyring builds a Keyring from a key to role-name mapping.
//
// Every role name must parse via ParseRole; an unknown role aborts
// construction so misconfigured bindings surface at startup. An empty
// mapping yields a ring that rejects every key.
func NewKeyring(entries map[string]string) (*Keyring, error) {
	ring := &Keyring{keys: make(map[string]Identity, len(entries))}
	for key, roleName := range entries {
		role, err := ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", Fingerprint(key), err)
		}
		ring.keys[key] = Identity{KeyID: Fingerprint(key), Role: role}
	}
	return ring, nil
}

// Lookup resolves a raw API key.
//
// The boolean is false for unknown keys and for the empty string.
func (k *Keyring) Lookup(key string) (Identity, bool) {
	if key == "" {
		return Identity{}, false
	}
	id, ok := k.keys[key]
	return id, ok
}

// Len returns the number of registered keys.
func (k *Keyring) Len() int { return len(k.keys) }

// Fingerprint returns a short SHA-256 digest of an API key, suitable for
// logs and audit trails.
func Fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4])
}

// =============================================================================
// Auth Middleware
// =============================================================================

// Authenticate creates a Gin middleware that authenticates requests
// against the given Keyring.
//
// # Description
//
// Extracts the API key from the Authorization header (Bearer scheme) or
// the X-API-Key header, resolves it against the ring, and stores the
// resulting Identity in the context. Requests with a missing or unknown
// key are rejected with 401 before reaching any handler.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.Authenticate(ring))
//	v1.GET("/events", middleware.RequireRole(middleware.RoleViewer), listEvents)
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func Authenticate(ring *Keyring) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing api key",
			})
			return
		}

		id, ok := ring.Lookup(key)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid api key",
			})
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}

// RequireRole creates a Gin middleware that rejects callers below the
// given role threshold.
//
// Must run after Authenticate: a request without an Identity in context
// is rejected with 401, an authenticated caller below the threshold
// with 403.
func RequireRole(min Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		if !id.Role.AtLeast(min) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "insufficient role",
			})
			return
		}
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractAPIKey extracts the API key from the request.
//
// The Authorization header is checked first, expecting the format
// "Bearer <key>" with a case-insensitive scheme per RFC 7235. When no
// bearer token is present the X-API-Key header is consulted. Returns
// empty string if neither carries a key.
func extractAPIKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token
			}
		}
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}
