// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

package api

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/cansentry/internal/logging"
	"github.com/tomtom215/cansentry/internal/websocket"
)

func newUpgrader(allowed []string) *gorillaws.Upgrader {
	u := &gorillaws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
	}
	if len(allowed) > 0 {
		u.CheckOrigin = originChecker(allowed)
	}
	return u
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and origins listed in allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	wildcard := slices.Contains(allowed, "*")
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		for _, a := range allowed {
			if strings.EqualFold(a, origin) || strings.EqualFold(a, u.Host) {
				return true
			}
		}
		return false
	}
}

// WebSocket upgrades the request and streams alerts to the client.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "Live alerts are not enabled", nil)
		return
	}
	client, err := websocket.ServeWS(h.hub, h.upgrader, w, r)
	if err != nil {
		// ServeWS or the upgrader has already written the response.
		logging.Ctx(r.Context()).Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	logging.Ctx(r.Context()).Debug().Uint64("client_id", client.ID()).Msg("websocket client attached")
}
