// Command chatrtd is the engine's process entrypoint: it wires the
// configuration loaders, provider adapters, Prompt Preparer, and
// session.Manager together and drives one chat session from stdin, printing
// streamed assistant output to stdout as it arrives.
//
// Grounded on the teacher's cmd/demo/main.go — a plain main that builds
// collaborators directly and runs one interaction end to end, rather than
// goa's generated service/endpoint/transport wiring (example/cmd/assistant),
// since this engine has no goa design package of its own to generate from.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chatcore/engine/runtime/budget"
	"github.com/chatcore/engine/runtime/config"
	"github.com/chatcore/engine/runtime/events"
	"github.com/chatcore/engine/runtime/message"
	"github.com/chatcore/engine/runtime/patch"
	"github.com/chatcore/engine/runtime/prepare"
	"github.com/chatcore/engine/runtime/provider"
	"github.com/chatcore/engine/runtime/providers/anthropic"
	"github.com/chatcore/engine/runtime/providers/openai"
	"github.com/chatcore/engine/runtime/session"
	"github.com/chatcore/engine/runtime/telemetry"
	"github.com/chatcore/engine/runtime/tokenizer"
	"github.com/chatcore/engine/runtime/tools"
	"github.com/chatcore/engine/runtime/trajectory"
	"github.com/chatcore/engine/runtime/trajectory/inmem"
	trajmongo "github.com/chatcore/engine/runtime/trajectory/mongo"
	clientsmongo "github.com/chatcore/engine/runtime/trajectory/mongo/clients/mongo"
)

func main() {
	var (
		chatIDF        = flag.String("chat-id", "cli-session", "chat session id")
		modelF         = flag.String("model", "claude-sonnet-4-5", "model identifier")
		modeF          = flag.String("mode", string(session.ModeAgent), "chat mode")
		customizationF = flag.String("customization", "", "path to a customization YAML file (optional)")
		mongoURIF      = flag.String("mongo-uri", "", "MongoDB URI for the trajectory log (optional; falls back to in-memory)")
		workspaceF     = flag.String("workspace", ".", "workspace root the apply_edit tool writes to")
		checkpointsF   = flag.Bool("checkpoints", false, "stamp a Checkpoint on every apply_edit commit")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := config.LoadProviderEnv()

	customization, err := config.LoadCustomization(*customizationF)
	if err != nil {
		fatalf("load customization: %v", err)
	}
	prompts := &config.PromptProvider{Customization: customization}

	router, err := buildAdapterRouter(env)
	if err != nil {
		fatalf("build provider adapters: %v", err)
	}

	trajStore, closeTraj, err := buildTrajectoryStore(ctx, *mongoURIF)
	if err != nil {
		fatalf("build trajectory store: %v", err)
	}
	defer closeTraj()

	models := newStaticModelRegistry()
	toolRegistry := tools.NewRegistry()
	budgeter := budget.New(tokenizer.NewFacade())

	factory := func(thread session.ThreadParams) (session.Preparer, provider.Adapter, *tools.Registry, session.PrepareOptions) {
		p := prepare.New(models, toolRegistry, budgeter)
		p.SystemPrompts = prompts
		return prepare.SessionPreparer{Preparer: p}, router, toolRegistry, session.PrepareOptions{
			PrependSystemPrompt: true,
			AllowAtCommands:     false,
			AllowToolPrerun:     false,
		}
	}

	manager := session.NewManager(factory, trajStore)
	stopSweep := manager.StartIdleSweep(ctx)
	defer stopSweep()

	thread := session.New(*chatIDF, *modelF, session.Mode(*modeF))
	thread.CheckpointsEnabled = *checkpointsF

	workspace := afero.NewBasePathFs(afero.NewOsFs(), *workspaceF)
	patchEngine := patch.New(workspace, patch.WithCheckpoints(thread.CheckpointsEnabled))
	if err := toolRegistry.Register(&tools.ApplyEditTool{Engine: patchEngine}); err != nil {
		fatalf("register apply_edit tool: %v", err)
	}

	sess, err := manager.CreateSession(thread)
	if err != nil {
		fatalf("create session: %v", err)
	}

	fmt.Fprintf(os.Stderr, "chatrtd: session %q ready (model=%s mode=%s). Type a message and press enter; Ctrl-D to exit.\n", thread.ID, thread.Model, thread.Mode)

	runREPL(ctx, sess)

	if err := manager.DeleteSession(context.Background(), thread.ID); err != nil {
		fmt.Fprintf(os.Stderr, "chatrtd: close session: %v\n", err)
	}
}

func buildAdapterRouter(env config.ProviderEnv) (*adapterRouter, error) {
	router := &adapterRouter{}
	tracer := telemetry.NewOTelTracer()
	metrics := telemetry.NewOTelMetrics()

	trace := func(a provider.Adapter) provider.Adapter {
		return provider.NewTracedAdapter(a, tracer, metrics)
	}

	if env.AnthropicAPIKey != "" {
		a, err := anthropic.NewFromAPIKey(anthropic.Options{
			APIKey:       env.AnthropicAPIKey,
			BaseURL:      env.AnthropicBaseURL,
			DefaultModel: "claude-sonnet-4-5",
			MaxTokens:    8192,
		})
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		router.anthropic = trace(provider.NewRateLimitedAdapter(a, 60_000, 5_000, 300_000))
	}

	if env.OpenAIAPIKey != "" {
		a, err := openai.NewFromAPIKey(openai.Options{
			APIKey:       env.OpenAIAPIKey,
			BaseURL:      env.OpenAIBaseURL,
			DefaultModel: "gpt-5",
			MaxTokens:    8192,
		})
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		router.openai = trace(provider.NewRateLimitedAdapter(a, 60_000, 5_000, 300_000))
	}

	if env.BedrockRegion != "" {
		// Bedrock's runtime client is constructed from the default AWS SDK
		// config chain (env vars, shared config/profile, IMDS), the same
		// credential resolution features/model/bedrock/client.go relies on;
		// wiring a RuntimeClient here beyond the adapter's narrowed
		// interface is left to deployment-specific bootstrap code, not this
		// CLI entrypoint.
		fmt.Fprintln(os.Stderr, "chatrtd: BEDROCK_REGION set but no aws-sdk-go-v2 config loader is wired in this entrypoint; skipping bedrock adapter")
	}

	return router, nil
}

func buildTrajectoryStore(ctx context.Context, uri string) (trajectory.Store, func(), error) {
	if uri == "" {
		return inmem.New(), func() {}, nil
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}

	mc, err := clientsmongo.New(clientsmongo.Options{Client: client, Database: "chatrtd"})
	if err != nil {
		return nil, nil, err
	}
	store, err := trajmongo.NewStore(mc)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(disconnectCtx)
	}
	return store, closeFn, nil
}

func runREPL(ctx context.Context, sess *session.Session) {
	chunks, unsubscribe := sess.Bus.Subscribe()
	defer unsubscribe()

	go printEvents(chunks)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		text := scanner.Text()
		if text == "" {
			continue
		}
		msg := message.New(message.RoleUser, text)
		if err := sess.Submit(session.CommandRequest{
			ClientRequestID: fmt.Sprintf("cli-%d", time.Now().UnixNano()),
			Command:         session.UserMessage{Message: msg},
		}); err != nil {
			fmt.Fprintf(os.Stderr, "chatrtd: submit: %v\n", err)
		}
	}
}

func printEvents(chunks <-chan events.Envelope) {
	for env := range chunks {
		switch ev := env.Event.(type) {
		case events.StreamDelta:
			for _, op := range ev.Ops {
				if op.Kind == events.OpAppendContent {
					fmt.Print(op.Text)
				}
			}
		case events.StreamFinished:
			fmt.Println()
			if ev.Error != "" {
				fmt.Fprintf(os.Stderr, "chatrtd: stream error: %s\n", ev.Error)
			}
		case events.MessageAdded:
			// Transcript persistence is handled by the orchestrator itself;
			// nothing to do here beyond the streamed text already printed.
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "chatrtd: "+format+"\n", args...)
	os.Exit(1)
}
