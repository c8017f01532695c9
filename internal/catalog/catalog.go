// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog maintains the set of models available across all configured
// providers and drives local model installs and removals.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/provider/local"
)

// =============================================================================
// CONTRACTS
// =============================================================================

// LocalProvider is the local backend surface the catalog manages models on.
type LocalProvider interface {
	provider.Client
	PullModel(ctx context.Context, name string, fn func(local.PullProgress)) error
	DeleteModel(ctx context.Context, name string) error
}

// modelNamePattern covers registry model references such as
// "llama3.2:3b" or "library/qwen2.5-coder:7b-q4".
var modelNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*(:[a-zA-Z0-9._-]+)?$`)

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is the model registry service. It owns the cached descriptor list
// and the in-flight download set; callers never touch a global. Safe for
// concurrent use.
type Catalog struct {
	localClient LocalProvider
	cloud       []provider.Client
	logger      *slog.Logger

	mu          sync.RWMutex
	models      []provider.ModelDescriptor
	downloading map[string]bool
}

// New creates a catalog over one local provider and any number of cloud
// providers. localClient may be nil when no local backend is configured.
func New(localClient LocalProvider, cloud []provider.Client, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		localClient: localClient,
		cloud:       cloud,
		logger:      logger,
		downloading: make(map[string]bool),
	}
}

// =============================================================================
// REFRESH AND LOOKUP
// =============================================================================

// Refresh re-fetches the model lists from every provider in parallel and
// replaces the cache. A provider that fails keeps the others' results; the
// joined error reports every failure. The cached order stays deterministic:
// local first, then cloud providers in configuration order.
func (c *Catalog) Refresh(ctx context.Context) error {
	providers := make([]provider.Client, 0, len(c.cloud)+1)
	if c.localClient != nil {
		providers = append(providers, c.localClient)
	}
	providers = append(providers, c.cloud...)

	results := make([][]provider.ModelDescriptor, len(providers))
	errs := make([]error, len(providers))

	var g errgroup.Group
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			models, err := p.ListModels(ctx)
			if err != nil {
				c.logger.Debug("model list refresh failed", "provider", p.Name(), "error", err)
				errs[i] = err
				return nil
			}
			results[i] = models
			return nil
		})
	}
	// Failures live in errs; the group's own error is always nil.
	_ = g.Wait()

	var fetched []provider.ModelDescriptor
	for _, models := range results {
		fetched = append(fetched, models...)
	}

	c.mu.Lock()
	c.models = fetched
	c.mu.Unlock()

	return errors.Join(errs...)
}

// Models returns a snapshot of the cached descriptors.
func (c *Catalog) Models() []provider.ModelDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]provider.ModelDescriptor, len(c.models))
	copy(out, c.models)
	return out
}

// Installed reports whether a local model with the given name is cached.
func (c *Catalog) Installed(name string) bool {
	localName := ""
	if c.localClient != nil {
		localName = c.localClient.Name()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.models {
		if m.Provider == localName && m.Name == name {
			return true
		}
	}
	return false
}

// Downloading reports whether a download for the given model is in flight.
func (c *Catalog) Downloading(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.downloading[name]
}

// =============================================================================
// INSTALL / REMOVE
// =============================================================================

// Install downloads a model onto the local backend, reporting progress via
// fn. Validation failures come back as *provider.ValidationError so the UI
// can render them inline next to the input; they are never fatal.
func (c *Catalog) Install(ctx context.Context, name string, fn func(local.PullProgress)) error {
	name = strings.TrimSpace(name)
	if err := c.validateInstall(name); err != nil {
		return err
	}
	defer func() {
		c.mu.Lock()
		delete(c.downloading, name)
		c.mu.Unlock()
	}()

	if err := c.localClient.PullModel(ctx, name, fn); err != nil {
		return err
	}

	// The pull succeeded; a refresh hiccup (an unrelated provider failing to
	// list) must not make the install look failed.
	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("post-install refresh incomplete", "model", name, "error", err)
	}
	return nil
}

// validateInstall checks the request and claims the download slot.
func (c *Catalog) validateInstall(name string) error {
	if c.localClient == nil {
		return &provider.ValidationError{Field: "model", Message: "no local provider configured"}
	}
	if name == "" {
		return &provider.ValidationError{Field: "model", Message: "model name is empty"}
	}
	if !modelNamePattern.MatchString(name) {
		return &provider.ValidationError{Field: "model", Message: "model name contains invalid characters"}
	}
	if c.Installed(name) {
		return &provider.ValidationError{Field: "model", Message: "model is already installed"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.downloading[name] {
		return &provider.ValidationError{Field: "model", Message: "a download for this model is already in progress"}
	}
	c.downloading[name] = true
	return nil
}

// Remove deletes a model from the local backend and refreshes the cache.
func (c *Catalog) Remove(ctx context.Context, name string) error {
	if c.localClient == nil {
		return &provider.ValidationError{Field: "model", Message: "no local provider configured"}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return &provider.ValidationError{Field: "model", Message: "model name is empty"}
	}

	if err := c.localClient.DeleteModel(ctx, name); err != nil {
		return err
	}
	return c.Refresh(ctx)
}
