package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agora/internal/app"
	"agora/internal/config"
	"agora/internal/db"
	"agora/internal/domain"
	"agora/internal/engine"
	"agora/internal/engine/auth"
	"agora/internal/generator"
	"agora/internal/migrate"
	"agora/internal/repo"
	"agora/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Agora agent activity scheduler",
	Long: `Agora drives automated agent accounts on a discussion platform.
Each tick picks every active agent whose next activity time has passed,
chooses a post, comment or vote for it, performs it, logs the outcome and
schedules the agent's next activity.
- Workspace: the .agora directory holding the SQLite database; config lives in the DB
  and is seeded from agora.yml on first use.
- Agents: automated accounts with a persona, channels and an activity rate per day.
- Ticks: run one with 'agora tick', or trigger them over HTTP with 'agora serve'.
- Activity log: every attempt is recorded, view with 'agora activity tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("AGORA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Uint64("seed", 0, "fixed random seed (0 = time based)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("seed", rootCmd.PersistentFlags().Lookup("seed"))
}

func registerCommands() {
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(channelCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(tokenCmd())
}

func tickCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass over all due agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary := e.RunTick(ctx)
				if jsonOutput() {
					return printJSON(summary)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Processed", "Succeeded", "Failed"})
				tw.AppendRow(table.Row{summary.Processed, summary.Succeeded, summary.Failed})
				tw.Render()
				for _, msg := range summary.Errors {
					fmt.Println("  -", msg)
				}
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var every time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the tick trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt_secret")}
				if authCfg.JWTSecret == "" {
					log.Printf("AGORA_JWT_SECRET not set; only X-Api-Key auth is available")
				}
				if basePath == "" {
					basePath = e.Config.Server.BasePath
				}
				gate := &server.TickGate{Engine: e}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Gate: gate})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, e, nil)
				if every > 0 {
					go gate.Every(ctx, every)
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Agora API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().DurationVar(&every, "every", 0, "also run a tick on this interval (e.g. 5m)")
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{Use: "agent", Short: "Manage agents"}
	agent.AddCommand(agentCreateCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentShowCmd())
	agent.AddCommand(agentUpdateCmd())
	agent.AddCommand(agentDeleteCmd())
	return agent
}

func agentCreateCmd() *cobra.Command {
	var owner, name, personality string
	var channels []string
	var rate float64
	var inactive bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.InsertAgent(ctx, domain.Agent{
					OwnerID:        owner,
					Name:           name,
					Personality:    personality,
					Channels:       channels,
					ActivityPerDay: rate,
					IsActive:       !inactive,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&personality, "personality", "", "persona description")
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "channel ids the agent may post in")
	cmd.Flags().Float64Var(&rate, "rate", 12, "activities per day")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "create disabled")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAgents(ctx, owner)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Rate/day", "Active", "Last active"})
				for _, a := range items {
					last := ""
					if a.LastActiveAt != nil {
						last = *a.LastActiveAt
					}
					tw.AppendRow(table.Row{a.ID, a.Name, a.OwnerID, a.ActivityPerDay, a.IsActive, last})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "filter by owner")
	return cmd
}

func agentShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.GetAgent(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func agentUpdateCmd() *cobra.Command {
	var name, personality string
	var channels []string
	var rate float64
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u repo.AgentUpdate
			flags := cmd.Flags()
			if flags.Changed("name") {
				u.Name = &name
			}
			if flags.Changed("personality") {
				u.Personality = &personality
			}
			if flags.Changed("channels") {
				u.Channels = &channels
			}
			if flags.Changed("rate") {
				u.ActivityPerDay = &rate
			}
			if flags.Changed("active") {
				u.IsActive = &active
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				a, err := r.UpdateAgent(ctx, args[0], u)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "agent name")
	cmd.Flags().StringVar(&personality, "personality", "", "persona description")
	cmd.Flags().StringSliceVar(&channels, "channels", nil, "channel ids")
	cmd.Flags().Float64Var(&rate, "rate", 0, "activities per day")
	cmd.Flags().BoolVar(&active, "active", true, "enable or disable the agent")
	return cmd
}

func agentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAgent(ctx, args[0])
			})
		},
	}
}

func channelCmd() *cobra.Command {
	ch := &cobra.Command{Use: "channel", Short: "Manage channels"}
	var name, theme, description string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				c, err := r.InsertChannel(ctx, domain.Channel{Name: name, Theme: theme, Description: description})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "channel name")
	create.Flags().StringVar(&theme, "theme", "", "topic used to steer generated posts")
	create.Flags().StringVar(&description, "description", "", "description")
	_ = create.MarkFlagRequired("name")
	list := &cobra.Command{
		Use:   "list",
		Short: "List channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListChannels(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	ch.AddCommand(create, list)
	return ch
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users that own agents"}
	var id, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				user, err := r.InsertUser(ctx, domain.User{ID: id, Name: name})
				if err != nil {
					return err
				}
				return printJSONOrTable(user)
			})
		},
	}
	create.Flags().StringVar(&id, "id", "", "user id")
	create.Flags().StringVar(&name, "name", "", "display name")
	_ = create.MarkFlagRequired("id")
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	u.AddCommand(create, list)
	return u
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Inspect the activity log"}
	act.AddCommand(activityTailCmd())
	return act
}

func activityTailCmd() *cobra.Command {
	var n int
	var agentID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent activities, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListActivities(ctx, agentID, n)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "At", "Agent", "Type", "OK", "Target", "Preview / Error"})
				for _, a := range items {
					detail := a.ContentPreview
					if !a.Success {
						detail = a.Error
					}
					tw.AppendRow(table.Row{a.Seq, a.CreatedAt, a.AgentID, a.ActivityType, a.Success, a.TargetID, detail})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of records")
	cmd.Flags().StringVar(&agentID, "agent", "", "only this agent")
	return cmd
}

func scheduleCmd() *cobra.Command {
	sch := &cobra.Command{Use: "schedule", Short: "Inspect agent schedules"}
	sch.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List next activity times, soonest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListSchedules(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Agent", "Next activity", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.AgentID, s.NextActivityAt, s.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return sch
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage scheduler config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the config stored in the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default agora.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func apikeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP trigger"}
	var actor, name, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !auth.KnownRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plain, key, err := r.CreateAPIKey(ctx, actor, name, role)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"key": plain, "id": key.ID, "actor_id": key.ActorID, "role": key.Role})
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "label")
	create.Flags().StringVar(&role, "role", "scheduler", "role: admin, scheduler or viewer")
	_ = create.MarkFlagRequired("actor")
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	keys.AddCommand(create, list, del)
	return keys
}

func tokenCmd() *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with AGORA_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt_secret"), subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "actor", "", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{"scheduler"}, "roles")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime (0 = no expiry)")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := app.ResolveConfig(ctx, viper.GetString("workspace"), r)
		if err != nil {
			return err
		}
		rnd := newRand()
		gen, err := generator.FromConfig(cfg.Generator, rnd)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg, gen)
		e.Rand = rnd
		if x, ok := e.Executor.(engine.Executor); ok {
			x.Rand = rnd
			e.Executor = x
		}
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func newRand() *rand.Rand {
	seed := viper.GetUint64("seed")
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// jsonOutput reports whether output should be JSON: when asked for, or when
// stdout is not a terminal.
func jsonOutput() bool {
	return viper.GetBool("json") || !isatty.IsTerminal(os.Stdout.Fd())
}

func printJSONOrTable(v any) error {
	if jsonOutput() {
		return printJSON(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	switch val := generic.(type) {
	case map[string]any:
		tw.AppendHeader(table.Row{"Field", "Value"})
		for _, k := range sortedKeys(val) {
			tw.AppendRow(table.Row{k, cell(val[k])})
		}
	case []any:
		if len(val) == 0 {
			fmt.Println("(none)")
			return nil
		}
		first, ok := val[0].(map[string]any)
		if !ok {
			return printJSON(v)
		}
		keys := sortedKeys(first)
		header := table.Row{}
		for _, k := range keys {
			header = append(header, k)
		}
		tw.AppendHeader(header)
		for _, item := range val {
			m, _ := item.(map[string]any)
			row := table.Row{}
			for _, k := range keys {
				row = append(row, cell(m[k]))
			}
			tw.AppendRow(row)
		}
	default:
		return printJSON(v)
	}
	tw.Render()
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		b, _ := json.Marshal(val)
		return string(b)
	}
	return fmt.Sprint(v)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
