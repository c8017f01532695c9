// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the backend-neutral chat client contract shared by
// the local inference backend and the OpenAI-compatible cloud backends,
// together with the error taxonomy and the proxy-aware HTTP transport they
// all build on.
package provider
