// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, turns and sampling options.
package model

import "sync"

// =============================================================================
// SAMPLING OPTIONS
// =============================================================================

// Sampling parameter defaults and bounds. All five fields are always sent
// together as one options payload; there is no per-field omission.
const (
	DefaultTemperature   = 0.8
	DefaultSeed          = 0
	DefaultContextWindow = 2048
	DefaultTopK          = 40
	DefaultTopP          = 0.9

	MinTemperature   = 0.1
	MaxTemperature   = 1.0
	MinContextWindow = 1024
	MaxContextWindow = 10240
	MinTopK          = 1
	MaxTopK          = 300
	MinTopP          = 0.1
	MaxTopP          = 1.0
)

// SamplingOptions holds the model inference parameters shared by all providers.
type SamplingOptions struct {
	Temperature   float64 `json:"temperature"`
	Seed          int     `json:"seed"`
	ContextWindow int     `json:"context_window"`
	TopK          int     `json:"top_k"`
	TopP          float64 `json:"top_p"`
}

// DefaultSamplingOptions returns the fixed defaults.
func DefaultSamplingOptions() SamplingOptions {
	return SamplingOptions{
		Temperature:   DefaultTemperature,
		Seed:          DefaultSeed,
		ContextWindow: DefaultContextWindow,
		TopK:          DefaultTopK,
		TopP:          DefaultTopP,
	}
}

// Clamped returns a copy with every field forced into its valid range.
func (o SamplingOptions) Clamped() SamplingOptions {
	o.Temperature = clampFloat(o.Temperature, MinTemperature, MaxTemperature)
	if o.Seed < 0 {
		o.Seed = 0
	}
	o.ContextWindow = clampInt(o.ContextWindow, MinContextWindow, MaxContextWindow)
	o.TopK = clampInt(o.TopK, MinTopK, MaxTopK)
	o.TopP = clampFloat(o.TopP, MinTopP, MaxTopP)
	return o
}

// =============================================================================
// SHARED SAMPLING STATE
// =============================================================================

// SamplingStore guards the process-wide sampling configuration. Requests take
// a snapshot via Get; configuration changes happen outside active sends, but
// access is still guarded for single-writer/many-reader safety.
type SamplingStore struct {
	mu   sync.RWMutex
	opts SamplingOptions
}

// NewSamplingStore creates a store initialized to the defaults.
func NewSamplingStore() *SamplingStore {
	return &SamplingStore{opts: DefaultSamplingOptions()}
}

// Get returns a snapshot of the current options.
func (s *SamplingStore) Get() SamplingOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Set replaces the current options, clamping each field to its valid range.
func (s *SamplingStore) Set(opts SamplingOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = opts.Clamped()
}

// Reset restores all five fixed defaults atomically.
func (s *SamplingStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = DefaultSamplingOptions()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
