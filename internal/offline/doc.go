// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package offline guards the machine boundary.
//
// A Guard carries the offline switch that disables cloud inference
// entirely. ValidateLocalEndpoint decides whether an endpoint counts as
// "on this machine", which is what allows sensitive operations to be
// routed to it.
package offline
