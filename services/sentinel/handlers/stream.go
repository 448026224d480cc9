// Copyright (C) 2025 GridWarden Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/gridwarden/gridwarden/pkg/logging"
	"github.com/gridwarden/gridwarden/services/sentinel/datatypes"
	"github.com/gridwarden/gridwarden/services/sentinel/middleware"
	"github.com/gridwarden/gridwarden/services/sentinel/notify"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Stream upgrades the connection to a WebSocket and subscribes it to
// the live event and rollout broadcast.
//
// Browsers cannot set headers on a WebSocket dial, so the upgrade
// carries its key in the api_key query parameter instead of going
// through the header middleware. A nil ring (auth disabled) admits
// everyone. Any valid key may subscribe; the stream is read-only.
func Stream(hub *notify.Hub, ring *middleware.Keyring, log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ring != nil {
			if _, ok := ring.Lookup(c.Query("api_key")); !ok {
				c.JSON(http.StatusUnauthorized, datatypes.APIError{
					Error: "invalid api key", Code: "unauthorized",
				})
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}
		hub.Attach(conn)
	}
}
