package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openhearth/hearth/internal/agent"
	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/entities"
	"github.com/openhearth/hearth/internal/providers"
	"github.com/openhearth/hearth/internal/sessions"
	"github.com/openhearth/hearth/internal/sink"
	"github.com/openhearth/hearth/internal/store"
	"github.com/openhearth/hearth/internal/tools"
	"github.com/openhearth/hearth/internal/tracing"
)

func chatCmd() *cobra.Command {
	var (
		message    string
		sessionKey string
		schemaPath string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent interactively or send a one-shot message",
		Long: `Chat with the hearth agent.

Examples:
  hearth chat                            # Interactive REPL
  hearth chat -m "turn off the lights"   # One-shot message
  hearth chat -s my-session              # Continue a session
  hearth chat -m "..." --schema out.json # Answer constrained to a JSON schema`,
		Run: func(cmd *cobra.Command, args []string) {
			runChat(message, sessionKey, schemaPath)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "one-shot message (omit for interactive mode)")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "", "session key (default: local CLI session)")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "JSON schema file constraining a one-shot answer")

	return cmd
}

func runChat(message, sessionKey, schemaPath string) {
	cfg := config.LoadOrDefault(cfgPath)

	stack, err := bootstrap(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer stack.close()

	if sessionKey == "" {
		sessionKey = sessions.BuildSessionKey(cfg.Agent.ID, "cli", sessions.PeerDirect, "local")
	}

	chatOnce := func(ctx context.Context, msg string) (string, error) {
		runID := "cli-" + uuid.NewString()[:8]
		ag, err := stack.router.Get(cfg.Agent.ID)
		if err != nil {
			return "", err
		}
		runCtx, cancelRun := context.WithCancel(ctx)
		defer cancelRun()
		stack.router.RegisterRun(runID, sessionKey, cfg.Agent.ID, cancelRun)
		defer stack.router.UnregisterRun(runID)

		res, err := ag.Run(runCtx, agent.RunRequest{
			SessionKey: sessionKey,
			Message:    msg,
		})
		if err != nil {
			return "", err
		}
		if stack.history != nil {
			saveErr := stack.history.SaveRun(store.Run{
				ID:            runID,
				SessionKey:    sessionKey,
				AgentID:       cfg.Agent.ID,
				Message:       msg,
				Content:       res.Content,
				NeedsFollowup: res.NeedsFollowup,
				Iterations:    res.Iterations,
				HitLimit:      res.HitIterationLimit,
			}, res.Records)
			if saveErr != nil {
				slog.Warn("history save failed", "error", saveErr)
			}
		}
		if verbose {
			for _, rec := range res.Records {
				fmt.Fprintf(os.Stderr, "  [tool] %s success=%v %dms retries=%d\n",
					rec.Name, rec.Success, rec.ExecutionTimeMs, rec.RetriesUsed)
			}
		}
		return res.Content, nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if schemaPath != "" {
		if message == "" {
			fmt.Fprintln(os.Stderr, "--schema requires a one-shot message (-m).")
			os.Exit(1)
		}
		runStructuredOnce(ctx, stack.loop, message, schemaPath)
		return
	}

	if message != "" {
		resp, err := chatOnce(ctx, message)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp)
		return
	}

	fmt.Fprintf(os.Stderr, "\nHearth - interactive chat\n")
	fmt.Fprintf(os.Stderr, "Agent: %s | Model: %s\n", cfg.Agent.ID, cfg.Agent.Model)
	fmt.Fprintf(os.Stderr, "Session: %s\n", sessionKey)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a new session\n\n")

	// Rebuild the stack when the config file changes between messages.
	cfgUpdates := make(chan *config.Config, 1)
	if watcher, err := config.NewWatcher(cfgPath); err == nil {
		watcher.OnChange(func(newCfg *config.Config) {
			select {
			case cfgUpdates <- newCfg:
			default:
			}
		})
		if err := watcher.Start(); err == nil {
			defer watcher.Stop()
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return
		case newCfg := <-cfgUpdates:
			newStack, err := bootstrap(newCfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Config change ignored: %v\n", err)
				break
			}
			stack.close()
			stack = newStack
			cfg = newCfg
			fmt.Fprintf(os.Stderr, "Config reloaded. Agent: %s | Model: %s\n", cfg.Agent.ID, cfg.Agent.Model)
		default:
		}

		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		}
		if input == "/new" {
			sessionKey = sessions.BuildSessionKey(cfg.Agent.ID, "cli", sessions.PeerDirect, uuid.NewString()[:8])
			fmt.Fprintf(os.Stderr, "New session: %s\n\n", sessionKey)
			continue
		}

		resp, err := chatOnce(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
			continue
		}
		fmt.Printf("\n%s\n\n", resp)
	}
}

// runStructuredOnce answers one message constrained to the schema in the
// given file and prints the validated value as JSON.
func runStructuredOnce(ctx context.Context, loop *agent.Loop, message, schemaPath string) {
	data, err := os.ReadFile(schemaPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading schema: %v\n", err)
		os.Exit(1)
	}
	var s map[string]interface{}
	if err := json.Unmarshal(data, &s); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing schema: %v\n", err)
		os.Exit(1)
	}

	value, err := loop.RunStructured(ctx, []providers.Message{{Role: "user", Content: message}}, s, "answer")
	if err != nil {
		fmt.Fprintln(os.Stderr, agent.StructuredErrorMessage(err))
		os.Exit(1)
	}
	out, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}

// stack holds the wired standalone runtime.
type runtimeStack struct {
	loop     *agent.Loop
	router   *agent.Router
	entities *entities.Store
	history  *store.History
	shutdown []func()
}

func (s *runtimeStack) close() {
	for i := len(s.shutdown) - 1; i >= 0; i-- {
		s.shutdown[i]()
	}
}

// bootstrap wires the full standalone stack from config: provider, tools,
// entities, session state, history and tracing.
func bootstrap(cfg *config.Config) (*runtimeStack, error) {
	stack := &runtimeStack{}

	preg := providers.NewRegistry()
	oa := providers.NewOpenAIProvider("openai", cfg.Provider.APIKey, cfg.Provider.BaseURL, cfg.Agent.Model)
	oa.SetRateLimit(cfg.Provider.RequestsPerSecond, int(cfg.Provider.RequestsPerSecond)+1)
	preg.Register(oa)
	provider, err := preg.Get(cfg.Agent.Provider)
	if err != nil {
		return nil, fmt.Errorf("provider %q: %w", cfg.Agent.Provider, err)
	}

	entStore := entities.NewStore()
	if cfg.EntitiesSeed != "" {
		if err := entStore.LoadSeedFile(cfg.EntitiesSeed); err != nil {
			return nil, fmt.Errorf("load entities: %w", err)
		}
	}
	stack.entities = entStore

	reg := tools.NewRegistry()
	reg.SetRateLimiter(tools.NewRateLimiter(60))
	reg.Register(tools.NewControlTool(entStore))
	reg.Register(tools.NewTimerTool(entStore))
	if cfg.BraveAPIKey != "" {
		reg.Register(tools.NewWebSearchTool(tools.NewBraveSearchProvider(cfg.BraveAPIKey)))
	}

	var state sessions.State
	if cfg.Sessions.Backend == "redis" {
		state = sessions.NewRedisState(cfg.Sessions.RedisAddr, cfg.Sessions.RedisPassword, cfg.Sessions.RedisDB)
	} else {
		state = sessions.NewMemoryState()
	}

	var transcriptSink sink.Sink
	if cfg.SinkURL != "" {
		ws, err := sink.DialWebSocketSink(cfg.SinkURL, nil)
		if err != nil {
			slog.Warn("transcript sink unavailable", "url", cfg.SinkURL, "error", err)
		} else {
			transcriptSink = ws
			stack.shutdown = append(stack.shutdown, func() { ws.Close() })
		}
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(context.Background(), tracing.Config{
			Endpoint:    cfg.Tracing.Endpoint,
			ServiceName: cfg.Tracing.Service,
			Insecure:    true,
		})
		if err != nil {
			slog.Warn("tracing setup failed", "error", err)
		} else {
			stack.shutdown = append(stack.shutdown, func() {
				shutdown(context.Background())
			})
		}
	}

	history, err := store.NewHistory(cfg.HistoryPath)
	if err != nil {
		slog.Warn("history store unavailable", "error", err)
	} else {
		stack.history = history
		stack.shutdown = append(stack.shutdown, func() { history.Close() })
	}

	stack.loop = agent.NewLoop(agent.LoopConfig{
		ID:              cfg.Agent.ID,
		Provider:        provider,
		Model:           cfg.Agent.Model,
		Registry:        reg,
		State:           state,
		Entities:        entStore,
		Sink:            transcriptSink,
		MaxIterations:   cfg.Agent.MaxIterations,
		ToolRetries:     cfg.Agent.ToolRetries,
		LatencyBudgetMs: cfg.Agent.LatencyBudgetMs,
		InjectionAction: cfg.Agent.InjectionAction,
	})

	stack.router = agent.NewRouter()
	stack.router.Register(stack.loop)
	// Long-lived REPLs outlive the router's cache TTL; re-resolve to the
	// same loop instead of failing the turn.
	stack.router.SetResolver(func(string) (agent.Agent, error) { return stack.loop, nil })

	return stack, nil
}
