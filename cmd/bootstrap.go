package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/samsaffron/toolstream/internal/agent"
	"github.com/samsaffron/toolstream/internal/billing"
	"github.com/samsaffron/toolstream/internal/config"
	"github.com/samsaffron/toolstream/internal/liveness"
	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/mcp"
	"github.com/samsaffron/toolstream/internal/session"
	"github.com/samsaffron/toolstream/internal/telemetry"
	"github.com/samsaffron/toolstream/internal/tools"
	"github.com/samsaffron/toolstream/internal/toolstream"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// applyProviderOverride applies a --provider flag of the form
// "provider[:model]".
func applyProviderOverride(cfg *config.Config, providerFlag string) error {
	if providerFlag == "" {
		return nil
	}
	provider, model, err := llm.ParseProviderModel(providerFlag)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(provider, model)
	return nil
}

func logContext(ctx context.Context, cfg *config.Config) context.Context {
	return telemetry.NewLogContext(ctx, os.Stderr, cfg.Log.Format, debugLog || cfg.Log.Debug)
}

func activeModel(cfg *config.Config) string {
	if p := cfg.ActiveProvider(); p != nil {
		return p.Model
	}
	return ""
}

// toolRuntime holds everything a run needs besides the provider.
type toolRuntime struct {
	cfg    *config.Config
	logger telemetry.Logger
	tracer telemetry.Tracer

	registry *toolstream.Registry
	parser   *toolstream.Parser
	custom   *tools.CustomDispatcher
	mcp      *mcp.Manager

	store  session.Store
	ledger *billing.Ledger
	pricer billing.Pricer
	live   *liveness.Registry
}

func newToolRuntime(ctx context.Context, cfg *config.Config) (*toolRuntime, error) {
	logger := telemetry.NewClueLogger()
	rt := &toolRuntime{
		cfg:      cfg,
		logger:   logger,
		tracer:   telemetry.NewClueTracer(),
		registry: toolstream.NewRegistry(),
		ledger:   billing.NewLedger(),
		live:     liveness.NewRegistry(logger),
	}

	servers, err := mcp.ServersFromConfig(cfg.MCP.Servers)
	if err != nil {
		return nil, err
	}
	rt.mcp = mcp.NewManager(servers, logger)

	opts, err := tools.OptionsFromConfig(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	opts.Billing = rt.ledger
	if err := tools.Register(rt.registry, opts); err != nil {
		rt.Close()
		return nil, err
	}

	rt.custom, err = tools.NewCustomDispatcher(opts.Root, cfg.CustomTools, rt.mcp, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("custom tools: %w", err)
	}
	rt.registry.SetCustom(rt.custom)

	defs := make(map[string]toolstream.CustomToolDefinition)
	for _, def := range rt.custom.Definitions() {
		defs[def.Name] = def
	}
	for _, def := range rt.mcp.Definitions(ctx) {
		defs[def.Name] = def
	}
	rt.parser, err = toolstream.NewParser(defs)
	if err != nil {
		rt.Close()
		return nil, err
	}

	store, err := session.NewStore(session.ConfigFromConfig(cfg))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	rt.store = session.NewLoggingStore(store, logger)

	if cfg.Billing.Pricing {
		rt.pricer = billing.NewPricingFetcher(cfg.Billing.PricingURL)
	}
	return rt, nil
}

func (rt *toolRuntime) Close() {
	if rt.mcp != nil {
		rt.mcp.StopAll()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}

func (rt *toolRuntime) markers() toolstream.Markers {
	return toolstream.Markers{Start: rt.cfg.Stream.StartMarker, End: rt.cfg.Stream.EndMarker}
}

func (rt *toolRuntime) newRunner(provider llm.Provider) (*agent.Runner, error) {
	return agent.NewRunner(agent.Options{
		Provider:      provider,
		Model:         activeModel(rt.cfg),
		Registry:      rt.registry,
		Parser:        rt.parser,
		Markers:       rt.markers(),
		StopSequences: rt.cfg.Stream.StopSequences,
		MaxSteps:      rt.cfg.Agent.MaxSteps,
		Oracle:        rt.live,
		Store:         rt.store,
		Billing:       rt.ledger,
		Pricer:        rt.pricer,
		Margin:        rt.cfg.Billing.Margin,
		Logger:        rt.logger,
		Tracer:        rt.tracer,
	})
}

type toolInfo struct {
	name        string
	source      string
	description string
}

// toolList returns built-in tools in their fixed order, then custom tools
// sorted by name.
func (rt *toolRuntime) toolList() []toolInfo {
	var list []toolInfo
	var custom []toolInfo
	for _, name := range rt.parser.ToolNames() {
		if toolstream.IsBuiltin(name) {
			list = append(list, toolInfo{name: name, source: "builtin", description: toolstream.Description(toolstream.Kind(name))})
			continue
		}
		def, _ := rt.parser.Custom(name)
		source := "custom"
		if server, _ := mcp.ParseToolName(name); server != "" {
			source = "mcp:" + server
		}
		custom = append(custom, toolInfo{name: name, source: source, description: def.Description})
	}
	sort.Slice(custom, func(i, j int) bool { return custom[i].name < custom[j].name })
	return append(list, custom...)
}

// systemPrompt tells the model how to call tools inline.
func (rt *toolRuntime) systemPrompt() string {
	m := rt.markers()
	var b strings.Builder
	if rt.cfg.Agent.Instructions != "" {
		b.WriteString(strings.TrimSpace(rt.cfg.Agent.Instructions))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "To use a tool, write a JSON object between %s and %s in your reply. ", m.Start, m.End)
	fmt.Fprintf(&b, "The %q key names the tool; the other keys are its arguments. ", toolstream.ToolNameKey)
	b.WriteString("Tools run in the order you write them and their results are sent back to you.\n\n")
	fmt.Fprintf(&b, "Example:\n%s{\"%s\": \"read_files\", \"paths\": [\"README.md\"]}%s\n\n", m.Start, toolstream.ToolNameKey, m.End)

	b.WriteString("Available tools:\n")
	for _, tool := range rt.toolList() {
		b.WriteString("- ")
		b.WriteString(tool.name)
		if tool.description != "" {
			b.WriteString(": ")
			b.WriteString(tool.description)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nCall %s when you are done.", toolstream.KindEndTurn)
	return b.String()
}
