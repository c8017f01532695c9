// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the provider.Client contract against
// OpenAI-compatible chat completion APIs. Several vendors share the one wire
// shape; a Descriptor parameterizes the client per vendor.
package cloud

// Descriptor identifies one OpenAI-compatible vendor.
type Descriptor struct {
	// Name is the display name used in user-facing errors.
	Name string

	// BaseURL is the API root, including any version path segment
	// (for example "https://api.openai.com/v1").
	BaseURL string
}

// Built-in vendor descriptors. BaseURL can be overridden from config for
// self-hosted gateways.
var (
	OpenAI = Descriptor{
		Name:    "OpenAI",
		BaseURL: "https://api.openai.com/v1",
	}
	OpenRouter = Descriptor{
		Name:    "OpenRouter",
		BaseURL: "https://openrouter.ai/api/v1",
	}
	Mistral = Descriptor{
		Name:    "Mistral",
		BaseURL: "https://api.mistral.ai/v1",
	}
	Groq = Descriptor{
		Name:    "Groq",
		BaseURL: "https://api.groq.com/openai/v1",
	}
)

// Descriptors lists the built-in vendors in display order.
var Descriptors = []Descriptor{OpenAI, OpenRouter, Mistral, Groq}

// DescriptorByName returns the built-in descriptor with the given display
// name, or false when no vendor matches.
func DescriptorByName(name string) (Descriptor, bool) {
	for _, d := range Descriptors {
		if d.Name == name {
			return d, true
		}
	}
	return Descriptor{}, false
}
