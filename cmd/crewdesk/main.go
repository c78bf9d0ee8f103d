package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cognicrew/crewdesk/internal/agent"
	"github.com/cognicrew/crewdesk/internal/config"
	"github.com/cognicrew/crewdesk/internal/desk"
	"github.com/cognicrew/crewdesk/internal/gateway"
	"github.com/cognicrew/crewdesk/internal/rag"
)

// Backend is the part of the desk service the CLI drives (allows mocking in tests)
type Backend interface {
	RunTurn(ctx context.Context, req desk.TurnRequest) (*desk.Reply, error)
	EndSession(ctx context.Context, req desk.EndSessionRequest) (string, bool, error)
	UploadDocument(ctx context.Context, accountID, agentID, filename string, content []byte) (rag.DocumentInfo, error)
	ListAgents(ctx context.Context, accountID string) ([]agent.Agent, error)
}

// BackendFactory builds a Backend and the func that releases it
type BackendFactory func(cfg *config.Config) (Backend, func(), error)

// DefaultBackendFactory builds the full gateway without starting its server
func DefaultBackendFactory(cfg *config.Config) (Backend, func(), error) {
	gw, err := gateway.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create gateway: %w", err)
	}
	return gw.Service(), gw.Close, nil
}

// CLIOptions for running commands with custom dependencies
type CLIOptions struct {
	BackendFactory BackendFactory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

func (o CLIOptions) withDefaults() CLIOptions {
	if o.BackendFactory == nil {
		o.BackendFactory = DefaultBackendFactory
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

var rootCmd = &cobra.Command{
	Use:   "crewdesk",
	Short: "crewdesk - customer support chat with retrieval and helpdesk tickets",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, chat widget and maintenance jobs",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with an agent in single message or REPL mode",
	RunE:  runChat,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest FILE...",
	Short: "Add documents to an agent's retrieval library",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents of an account",
	RunE:  runAgents,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and a sample agent catalog",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show crewdesk status",
	RunE:  runStatus,
}

var (
	accountFlag       string
	departmentFlag    string
	agentFlag         string
	messageFlag       string
	languageFlag      string
	customerNameFlag  string
	customerEmailFlag string
)

func init() {
	for _, c := range []*cobra.Command{chatCmd, ingestCmd, agentsCmd} {
		c.Flags().StringVarP(&accountFlag, "account", "a", "default", "Account (tenant) id")
	}
	chatCmd.Flags().StringVarP(&departmentFlag, "department", "d", "", "Department used to pick the agent")
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	chatCmd.Flags().StringVarP(&languageFlag, "language", "l", "", "Reply language")
	chatCmd.Flags().StringVar(&customerNameFlag, "customer-name", "", "Customer name used on the ticket")
	chatCmd.Flags().StringVar(&customerEmailFlag, "customer-email", "", "Customer email used on the ticket")
	ingestCmd.Flags().StringVar(&agentFlag, "agent", "", "Agent id that owns the documents")
	_ = ingestCmd.MarkFlagRequired("agent")

	rootCmd.AddCommand(serveCmd, chatCmd, ingestCmd, agentsCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(CLIOptions{})
}

// runChatWithOptions keeps the session history locally, like the widget
// does, and files it as a ticket when the session ends.
func runChatWithOptions(opts CLIOptions) error {
	opts = opts.withDefaults()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, release, err := opts.BackendFactory(cfg)
	if err != nil {
		return err
	}
	defer release()

	language := languageFlag
	if language == "" && len(cfg.Languages) > 0 {
		language = cfg.Languages[0]
	}

	ctx := context.Background()
	var history []agent.Turn
	var agentID string

	turn := func(input string) error {
		reply, err := backend.RunTurn(ctx, desk.TurnRequest{
			AccountID:  accountFlag,
			Department: departmentFlag,
			History:    history,
			Message:    input,
			Language:   language,
		})
		if err != nil {
			return err
		}
		agentID = reply.AgentID
		history = append(history,
			agent.Turn{Role: agent.RoleUser, Content: input},
			agent.Turn{Role: agent.RoleAssistant, Content: reply.Response},
		)
		if reply.SwitchedLanguage != "" {
			language = reply.SwitchedLanguage
		}
		fmt.Fprintln(opts.Stdout, reply.Response)
		return nil
	}

	// Single message mode
	if messageFlag != "" {
		if err := turn(messageFlag); err != nil {
			return fmt.Errorf("chat error: %w", err)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintln(opts.Stdout, "crewdesk chat (type 'exit' to end the session)")
	scanner := bufio.NewScanner(opts.Stdin)
	for {
		fmt.Fprint(opts.Stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		if err := turn(input); err != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		}
	}

	if len(history) == 0 {
		return nil
	}
	id, created, err := backend.EndSession(ctx, desk.EndSessionRequest{
		AccountID:       accountFlag,
		AgentID:         agentID,
		Department:      departmentFlag,
		Turns:           history,
		CustomerName:    customerNameFlag,
		CustomerEmail:   customerEmailFlag,
		DefaultPlatform: cfg.Widget.DefaultPlatform,
	})
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	if created {
		fmt.Fprintf(opts.Stdout, "Session ended. Ticket created: %s\n", id)
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	return runIngestWithOptions(args, CLIOptions{})
}

func runIngestWithOptions(paths []string, opts CLIOptions) error {
	opts = opts.withDefaults()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, release, err := opts.BackendFactory(cfg)
	if err != nil {
		return err
	}
	defer release()

	failed := 0
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "%s: %v\n", p, err)
			failed++
			continue
		}
		doc, err := backend.UploadDocument(context.Background(), accountFlag, agentFlag, filepath.Base(p), data)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "%s: %v\n", p, err)
			failed++
			continue
		}
		state := "embedded"
		if !doc.Embedded {
			state = "pending embedding"
		}
		fmt.Fprintf(opts.Stdout, "Uploaded %s as %s (%s)\n", doc.Filename, doc.ID, state)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	return runAgentsWithOptions(CLIOptions{})
}

func runAgentsWithOptions(opts CLIOptions) error {
	opts = opts.withDefaults()
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	backend, release, err := opts.BackendFactory(cfg)
	if err != nil {
		return err
	}
	defer release()

	agents, err := backend.ListAgents(context.Background(), accountFlag)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Fprintf(opts.Stdout, "No agents for account %s (catalog: %s)\n", accountFlag, cfg.Agents.CatalogPath)
		return nil
	}
	for _, a := range agents {
		platform := a.Helpdesk.Platform
		if platform == "" {
			platform = "-"
		}
		fmt.Fprintf(opts.Stdout, "%s\t%s\t%s\tllm=%s\thelpdesk=%s\ttickets=%v\n",
			a.ID, a.Name, a.Department, a.LLMType, platform, a.CreateTickets)
	}
	return nil
}

func runOnboard(cmd *cobra.Command, args []string) error {
	return runOnboardWithOptions(CLIOptions{})
}

func runOnboardWithOptions(opts CLIOptions) error {
	opts = opts.withDefaults()
	out := opts.Stdout
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0600); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := os.MkdirAll(cfg.Data.BlobDir, 0755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	writeIfNotExists(out, cfg.Agents.CatalogPath, defaultAgentsYAML)

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s with your agents, LLM keys and helpdesk credentials\n", cfg.Agents.CatalogPath)
	fmt.Fprintln(out, "  2. Set CREWDESK_EMBEDDING_API_KEY (or OPENAI_API_KEY) for document embeddings")
	fmt.Fprintln(out, "  3. Run 'crewdesk chat -m \"Hello\"' to test, then 'crewdesk serve'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	return runStatusWithOptions(CLIOptions{})
}

func runStatusWithOptions(opts CLIOptions) error {
	opts = opts.withDefaults()
	out := opts.Stdout

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Listen: %s\n", cfg.Addr())
	fmt.Fprintf(out, "Embedding: %s (%s, dim %d)\n", cfg.Embedding.Model, cfg.Embedding.Provider, cfg.Embedding.Dimension)
	fmt.Fprintf(out, "Embedding Key: %s\n", maskKey(cfg.Embedding.APIKey))
	fmt.Fprintf(out, "Widget: enabled=%v inactivity=%s platform=%s\n", cfg.Widget.Enabled, cfg.Widget.InactivityDuration(), cfg.Widget.DefaultPlatform)
	fmt.Fprintf(out, "Backfill: enabled=%v schedule=%q\n", cfg.Backfill.Enabled, cfg.Backfill.Schedule)

	if catalog, err := agent.LoadCatalog(cfg.Agents.CatalogPath); err != nil {
		fmt.Fprintf(out, "Agents: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Agents: %d (%s)\n", catalog.Len(), cfg.Agents.CatalogPath)
	}

	if _, err := os.Stat(cfg.Data.DBPath); err != nil {
		fmt.Fprintln(out, "Database: not found (run 'crewdesk onboard' and 'crewdesk serve')")
		return nil
	}
	engine, err := rag.NewEngine(cfg.Data.DBPath)
	if err != nil {
		fmt.Fprintf(out, "Database: error (%v)\n", err)
		return nil
	}
	defer engine.Close()
	stats, err := engine.Stats(context.Background())
	if err != nil {
		fmt.Fprintf(out, "Database: error (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Documents: %d (%d pending embedding)\n", stats.Documents, stats.PendingDocuments)
	fmt.Fprintf(out, "Cached embeddings: %d\n", stats.CachedEmbeddings)
	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func writeIfNotExists(out io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return
		}
		_ = os.WriteFile(path, []byte(content), 0600)
		fmt.Fprintf(out, "  Created: %s\n", path)
	}
}

const defaultAgentsYAML = `# Agent personas served by crewdesk. Each agent belongs to one account.
agents:
  - id: support-bot
    account_id: default
    name: Ava
    role: Support Specialist
    company: Example Co
    department: Support
    info: |
      Friendly, patient and precise. Answers questions about orders,
      shipping and returns.
    llm_type: gpt
    api_key: ""
    is_default: true
    create_tickets: false
    helpdesk:
      platform: ""
`
