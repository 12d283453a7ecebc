// cansentry - CAN Bus Intrusion Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cansentry

/*
Package middleware provides the HTTP middleware shared by the API router.

  - RequestID: propagates or generates X-Request-ID and stores it in the
    logging context so handler logs carry request_id
  - PrometheusMetrics: counts requests and observes latency labelled by the
    chi route pattern rather than the raw path, which keeps frame IDs out of
    label values

Both have the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics)
*/
package middleware
