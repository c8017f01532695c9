// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/jeranaias/parley/internal/catalog"
	"github.com/jeranaias/parley/internal/chat"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/prompt"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/provider/cloud"
	"github.com/jeranaias/parley/internal/provider/local"
	"github.com/jeranaias/parley/internal/store"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// APP
// =============================================================================

// preference keys persisted across sessions.
const (
	prefModel    = "model"
	prefLanguage = "response_language"
)

// App wires the store, providers, catalog and orchestrator behind the REPL.
type App struct {
	cfg    *config.Config
	store  *store.Store
	cat    *catalog.Catalog
	orch   *chat.Orchestrator
	lc     *local.Client
	clouds map[string]provider.Client
	input  *Input
	prn    *printer
	out    io.Writer
	logger *slog.Logger

	// mu guards the fields below: the config watcher updates settings from
	// its own goroutine, and the SIGINT handler reads the current chat.
	mu        sync.Mutex
	chatID    string
	chatName  string
	modelName string
	// vendor owning the selected model; local models report the local
	// provider's name.
	vendor    string
	language  string
	streaming bool
}

// NewApp builds the application from configuration.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Storage.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	proxy := provider.ProxyConfig{
		Enabled:     cfg.Proxy.Enabled,
		URL:         cfg.Proxy.URL,
		AuthEnabled: cfg.Proxy.AuthEnabled,
		Login:       cfg.Proxy.Login,
		Password:    cfg.Proxy.Password,
	}

	lc, err := local.NewClient(local.Config{
		BaseURL: cfg.Local.BaseURL,
		Timeout: cfg.LocalTimeout(),
		Proxy:   proxy,
		Logger:  logger,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("local provider: %w", err)
	}

	clouds := make(map[string]provider.Client)
	var cloudList []provider.Client
	for vendor, entry := range cfg.Cloud {
		if entry.APIKey == "" {
			continue
		}
		desc, ok := cloud.DescriptorByName(vendor)
		if !ok {
			logger.Warn("unknown cloud vendor in config", "vendor", vendor)
			continue
		}
		if entry.BaseURL != "" {
			desc.BaseURL = entry.BaseURL
		}
		cc, err := cloud.NewClient(cloud.Config{
			Descriptor: desc,
			APIKey:     entry.APIKey,
			Proxy:      proxy,
			Logger:     logger,
		})
		if err != nil {
			logger.Warn("cloud provider disabled", "vendor", vendor, "error", err)
			continue
		}
		clouds[vendor] = cc
		cloudList = append(cloudList, cc)
	}

	prn := newPrinter(os.Stdout, true)
	orch := chat.New(chat.Config{
		Store:           st,
		Publish:         prn.publish,
		BufferedTimeout: cfg.LocalTimeout(),
		Logger:          logger,
	})

	return &App{
		cfg:       cfg,
		store:     st,
		cat:       catalog.New(lc, cloudList, logger),
		orch:      orch,
		lc:        lc,
		clouds:    clouds,
		prn:       prn,
		out:       os.Stdout,
		logger:    logger,
		language:  cfg.ResponseLanguage,
		modelName: cfg.DefaultModel,
		vendor:    lc.Name(),
		streaming: cfg.Local.Streaming,
	}, nil
}

// Close releases the store and terminal.
func (a *App) Close() {
	if a.input != nil {
		a.input.Close()
	}
	a.store.Close()
}

// =============================================================================
// RUN LOOP
// =============================================================================

// Run starts the REPL and blocks until the user exits.
func (a *App) Run(ctx context.Context) error {
	a.input = NewInput()

	if err := a.cat.Refresh(ctx); err != nil {
		// Partial results are kept; a dead provider should not block startup.
		a.logger.Warn("model refresh incomplete", "error", err)
	}
	a.restorePreferences(ctx)
	if err := a.openLatestChat(ctx); err != nil {
		return err
	}

	// Ctrl+C during a send cancels it; at the prompt liner reports an abort.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for range sigCh {
			a.orch.Cancel(a.currentChatID())
		}
	}()

	fmt.Fprintf(a.out, "parley - chat: %s, model: %s (/help for commands)\n",
		a.chatName, a.displayModel())

	for {
		line, err := a.input.Read("parley> ")
		if err != nil {
			// Ctrl+C or Ctrl+D at the prompt exits.
			fmt.Fprintln(a.out)
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			return nil
		}
		if strings.HasPrefix(line, "/") {
			quit, err := a.dispatch(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[error] %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}
		a.send(ctx, line)
	}
}

func (a *App) restorePreferences(ctx context.Context) {
	if v, ok, err := a.store.GetPreference(ctx, prefModel); err == nil && ok && v != "" {
		a.setModel(v)
	}
	if v, ok, err := a.store.GetPreference(ctx, prefLanguage); err == nil && ok && v != "" {
		a.mu.Lock()
		a.language = v
		a.mu.Unlock()
	}
}

// openLatestChat resumes the most recent chat, creating one when none exist.
func (a *App) openLatestChat(ctx context.Context) error {
	chats, err := a.store.GetChats(ctx)
	if err != nil {
		return err
	}
	if len(chats) > 0 {
		a.setChat(chats[0].ID, chats[0].DisplayName())
		return nil
	}
	return a.newChat(ctx, "")
}

func (a *App) newChat(ctx context.Context, name string) error {
	c := model.NewChat(name)
	if err := a.store.SaveChat(ctx, *c); err != nil {
		return err
	}
	a.setChat(c.ID, c.DisplayName())
	return nil
}

func (a *App) setChat(id, name string) {
	a.mu.Lock()
	a.chatID = id
	a.chatName = name
	a.mu.Unlock()
}

func (a *App) currentChatID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatID
}

// =============================================================================
// SENDING
// =============================================================================

// send runs one turn against the selected provider and prints the reply.
func (a *App) send(ctx context.Context, content string) {
	a.mu.Lock()
	client, target, err := a.resolveClientLocked()
	chatID := a.chatID
	modelName, language, streaming := a.modelName, a.language, a.streaming
	a.mu.Unlock()
	if err != nil {
		fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		return
	}

	done := a.prn.begin()
	err = a.orch.SendTurn(ctx, chatID, content, chat.SendSpec{
		Client:           client,
		Target:           target,
		ModelName:        modelName,
		ResponseLanguage: language,
		Streaming:        streaming,
	})
	if err != nil {
		if errors.Is(err, chat.ErrSendInFlight) {
			fmt.Fprintln(os.Stderr, "[error] still waiting on the previous message")
		} else {
			fmt.Fprintf(os.Stderr, "[error] %v\n", err)
		}
		return
	}

	select {
	case <-done:
	case <-ctx.Done():
		a.orch.Cancel(chatID)
	}
}

func (a *App) resolveClientLocked() (provider.Client, prompt.Target, error) {
	if a.modelName == "" {
		return nil, 0, errors.New("no model selected; see /models and /use")
	}
	if a.vendor == a.lc.Name() {
		return a.lc, prompt.TargetLocal, nil
	}
	if c, ok := a.clouds[a.vendor]; ok {
		return c, prompt.TargetCloud, nil
	}
	return nil, 0, fmt.Errorf("provider %q is not configured", a.vendor)
}

// setModel selects a model, resolving its owning provider from the catalog.
func (a *App) setModel(name string) {
	vendor := a.lc.Name()
	for _, m := range a.cat.Models() {
		if m.Name == name {
			vendor = m.Provider
			break
		}
	}
	a.mu.Lock()
	a.modelName = name
	a.vendor = vendor
	a.mu.Unlock()
}

func (a *App) displayModel() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.modelName == "" {
		return "(none)"
	}
	return a.modelName + " [" + a.vendor + "]"
}

// ApplyConfig adopts the reloadable parts of a fresh configuration. Provider
// endpoints and keys need a restart; language, streaming and the default
// model apply immediately.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.mu.Lock()
	a.language = cfg.ResponseLanguage
	a.streaming = cfg.Local.Streaming
	a.mu.Unlock()
	if cfg.DefaultModel != "" {
		a.setModel(cfg.DefaultModel)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

const helpText = `Commands:
  /models              list available models (local and cloud)
  /use <model>         select the model for new messages
  /pull <model>        download a model to the local server
  /rm <model>          remove a local model
  /chats               list chats
  /new [name]          start a new chat
  /open <id>           switch to a chat by id prefix
  /history             show the current conversation
  /clear               delete the current chat's messages
  /delete              delete the current chat
  /export <path> [md|json]  export the current chat
  /lang [language]     show or set the response language (Auto disables)
  /options             show sampling options
  /set <name> <value>  set temperature, seed, context, topk or topp
  /reset               restore default sampling options
  /stream on|off       toggle streamed replies
  /quit                exit`

// dispatch handles one slash command. The bool result requests exit.
func (a *App) dispatch(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		fmt.Fprintln(a.out, helpText)

	case "/quit", "/exit":
		return true, nil

	case "/models":
		return false, a.cmdModels(ctx)

	case "/use":
		if len(args) != 1 {
			return false, errors.New("usage: /use <model>")
		}
		a.setModel(args[0])
		if err := a.store.SetPreference(ctx, prefModel, args[0]); err != nil {
			a.logger.Warn("failed to persist model preference", "error", err)
		}
		fmt.Fprintf(a.out, "model: %s\n", a.displayModel())

	case "/pull":
		if len(args) != 1 {
			return false, errors.New("usage: /pull <model>")
		}
		return false, a.cmdPull(ctx, args[0])

	case "/rm":
		if len(args) != 1 {
			return false, errors.New("usage: /rm <model>")
		}
		if err := a.cat.Remove(ctx, args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "removed %s\n", args[0])

	case "/chats":
		return false, a.cmdChats(ctx)

	case "/new":
		if err := a.newChat(ctx, strings.Join(args, " ")); err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "chat: %s\n", a.chatName)

	case "/open":
		if len(args) != 1 {
			return false, errors.New("usage: /open <id>")
		}
		return false, a.cmdOpen(ctx, args[0])

	case "/history":
		return false, a.cmdHistory(ctx)

	case "/clear":
		if err := a.store.DeleteTurns(ctx, a.chatID); err != nil {
			return false, err
		}
		fmt.Fprintln(a.out, "cleared")

	case "/delete":
		return false, a.cmdDelete(ctx)

	case "/export":
		if len(args) == 0 {
			return false, errors.New("usage: /export <path> [md|json]")
		}
		format := "markdown"
		if len(args) > 1 && (args[1] == "json" || args[1] == "JSON") {
			format = "json"
		}
		if err := a.store.ExportChat(ctx, a.chatID, args[0], format); err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "exported to %s\n", args[0])

	case "/lang":
		if len(args) == 0 {
			a.mu.Lock()
			lang := a.language
			a.mu.Unlock()
			fmt.Fprintf(a.out, "response language: %s\n", lang)
			return false, nil
		}
		lang := strings.Join(args, " ")
		a.mu.Lock()
		a.language = lang
		a.mu.Unlock()
		if err := a.store.SetPreference(ctx, prefLanguage, lang); err != nil {
			a.logger.Warn("failed to persist language preference", "error", err)
		}
		fmt.Fprintf(a.out, "response language: %s\n", lang)

	case "/options":
		o := a.orch.Sampling().Get()
		fmt.Fprintf(a.out, "temperature=%.2f seed=%d context=%d topk=%d topp=%.2f\n",
			o.Temperature, o.Seed, o.ContextWindow, o.TopK, o.TopP)

	case "/set":
		if len(args) != 2 {
			return false, errors.New("usage: /set <name> <value>")
		}
		return false, a.cmdSet(args[0], args[1])

	case "/reset":
		a.orch.Sampling().Reset()
		fmt.Fprintln(a.out, "sampling options reset")

	case "/stream":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			return false, errors.New("usage: /stream on|off")
		}
		on := args[0] == "on"
		a.mu.Lock()
		a.streaming = on
		a.mu.Unlock()
		fmt.Fprintf(a.out, "streaming: %v\n", on)

	default:
		return false, fmt.Errorf("unknown command %s (see /help)", cmd)
	}
	return false, nil
}

func (a *App) cmdModels(ctx context.Context) error {
	if err := a.cat.Refresh(ctx); err != nil {
		a.logger.Warn("model refresh incomplete", "error", err)
	}
	models := a.cat.Models()
	if len(models) == 0 {
		fmt.Fprintln(a.out, "no models available")
		return nil
	}
	a.mu.Lock()
	selected := a.modelName
	a.mu.Unlock()
	for _, m := range models {
		marker := " "
		if m.Name == selected {
			marker = "*"
		}
		size := ""
		if m.SizeBytes > 0 {
			size = fmt.Sprintf("  %.1f GB", float64(m.SizeBytes)/1e9)
		}
		fmt.Fprintf(a.out, "%s %-40s %s%s\n", marker, m.Name, m.Provider, size)
	}
	return nil
}

func (a *App) cmdPull(ctx context.Context, name string) error {
	var lastStatus string
	err := a.cat.Install(ctx, name, func(p local.PullProgress) {
		if p.Total > 0 {
			fmt.Fprintf(a.out, "\r%s: %.0f%%   ", p.Status, p.Percent())
		} else if p.Status != lastStatus {
			fmt.Fprintf(a.out, "\r%s   ", p.Status)
		}
		lastStatus = p.Status
	})
	fmt.Fprintln(a.out)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pulled %s\n", name)
	return nil
}

func (a *App) cmdChats(ctx context.Context) error {
	chats, err := a.store.GetChats(ctx)
	if err != nil {
		return err
	}
	for _, c := range chats {
		marker := " "
		if c.ID == a.chatID {
			marker = "*"
		}
		fmt.Fprintf(a.out, "%s %s  %s  %s\n", marker, c.ID[:8],
			c.CreatedAt.Local().Format("2006-01-02 15:04"),
			util.TruncateRunes(c.DisplayName(), 40))
	}
	return nil
}

func (a *App) cmdOpen(ctx context.Context, prefix string) error {
	chats, err := a.store.GetChats(ctx)
	if err != nil {
		return err
	}
	for _, c := range chats {
		if strings.HasPrefix(c.ID, prefix) {
			a.setChat(c.ID, c.DisplayName())
			fmt.Fprintf(a.out, "chat: %s\n", c.DisplayName())
			return nil
		}
	}
	return fmt.Errorf("no chat with id prefix %q", prefix)
}

func (a *App) cmdHistory(ctx context.Context) error {
	turns, err := a.store.TurnsByChat(ctx, a.chatID)
	if err != nil {
		return err
	}
	for _, t := range turns {
		label := "you"
		if t.Role == model.RoleAssistant {
			label = t.ModelName
			if label == "" {
				label = "assistant"
			}
		}
		fmt.Fprintf(a.out, "[%s] %s\n", label, t.Content)
	}
	return nil
}

func (a *App) cmdDelete(ctx context.Context) error {
	if err := a.store.DeleteChat(ctx, a.chatID); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "deleted")
	return a.openLatestChat(ctx)
}

func (a *App) cmdSet(name, value string) error {
	opts := a.orch.Sampling().Get()
	switch strings.ToLower(name) {
	case "temperature", "temp":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid temperature %q", value)
		}
		opts.Temperature = f
	case "seed":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid seed %q", value)
		}
		opts.Seed = n
	case "context", "ctx":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid context length %q", value)
		}
		opts.ContextWindow = n
	case "topk":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid topk %q", value)
		}
		opts.TopK = n
	case "topp":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid topp %q", value)
		}
		opts.TopP = f
	default:
		return fmt.Errorf("unknown option %q", name)
	}
	a.orch.Sampling().Set(opts)
	o := a.orch.Sampling().Get()
	fmt.Fprintf(a.out, "temperature=%.2f seed=%d context=%d topk=%d topp=%.2f\n",
		o.Temperature, o.Seed, o.ContextWindow, o.TopK, o.TopP)
	return nil
}
