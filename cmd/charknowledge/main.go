package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/honey991127/char-knowledge/internal/config"
	"github.com/honey991127/char-knowledge/internal/engine"
	"github.com/honey991127/char-knowledge/internal/mcp"
	"github.com/honey991127/char-knowledge/internal/memory"
	"github.com/honey991127/char-knowledge/internal/store"
)

const version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch os.Args[1] {
	case "observe":
		err = runObserve(os.Args[2:])
	case "inject":
		err = runInject(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "add":
		err = runAdd(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("charknowledge %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cliOptions holds the flags shared by every command.
type cliOptions struct {
	conversation string
	persona      string
	group        bool
	dbPath       string
	configPath   string
}

// parseArgs splits args into shared flags and positional arguments.
// Command-specific flags land in extra, keyed without the leading dashes.
func parseArgs(args []string) (cliOptions, map[string]string, []string, error) {
	var opts cliOptions
	extra := make(map[string]string)
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			if arg == "-g" {
				opts.group = true
				continue
			}
			positional = append(positional, arg)
			continue
		}

		name := strings.TrimPrefix(arg, "--")
		if name == "group" {
			opts.group = true
			continue
		}

		if i+1 >= len(args) {
			return opts, nil, nil, fmt.Errorf("flag --%s needs a value", name)
		}
		i++
		value := args[i]

		switch name {
		case "conversation":
			opts.conversation = value
		case "persona":
			opts.persona = value
		case "db":
			opts.dbPath = value
		case "config":
			opts.configPath = value
		default:
			extra[name] = value
		}
	}
	return opts, extra, positional, nil
}

// setup loads settings, opens the store and builds an engine. The caller
// must Close the returned repository.
func setup(opts cliOptions, log *zap.Logger) (*engine.Engine, store.Repository, error) {
	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	dbPath := opts.dbPath
	if dbPath == "" {
		dbPath = cfg.DBPath
	}
	repo, err := store.NewSQLite(store.SQLiteConfig{DBPath: dbPath})
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return engine.New(repo, cfg, log), repo, nil
}

func (o cliOptions) context() (engine.ConversationContext, error) {
	if o.conversation == "" {
		return engine.ConversationContext{}, fmt.Errorf("--conversation is required")
	}
	if o.persona == "" {
		return engine.ConversationContext{}, fmt.Errorf("--persona is required")
	}
	return engine.ConversationContext{
		ConversationID: o.conversation,
		PersonaID:      o.persona,
		IsMultiParty:   o.group,
	}, nil
}

func runObserve(args []string) error {
	opts, _, positional, err := parseArgs(args)
	if err != nil {
		return err
	}
	cc, err := opts.context()
	if err != nil {
		return err
	}
	if len(positional) == 0 {
		return fmt.Errorf("usage: charknowledge observe --conversation <id> --persona <id> [--group] <text>")
	}
	text := strings.Join(positional, " ")

	eng, repo, err := setup(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer repo.Close()

	res, err := eng.Observe(context.Background(), cc, text)
	if err != nil {
		return err
	}
	if !res.Applied {
		fmt.Println("Not applied (memory disabled, group conversation, or persona is not the owner).")
		return nil
	}
	fmt.Printf("Extracted %d, added %d, reinforced %d.\n", res.Extracted, res.Added, res.Reinforced)
	if res.FlushErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: save failed, changes held in memory only: %v\n", res.FlushErr)
	}
	return nil
}

func runInject(args []string) error {
	opts, _, positional, err := parseArgs(args)
	if err != nil {
		return err
	}
	cc, err := opts.context()
	if err != nil {
		return err
	}
	text := strings.Join(positional, " ")

	eng, repo, err := setup(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer repo.Close()

	inj, err := eng.BuildInjection(context.Background(), cc, text)
	if err != nil {
		return err
	}
	if inj.Text == "" {
		fmt.Println("(injection suppressed)")
		return nil
	}
	fmt.Println(inj.Text)
	return nil
}

func runList(args []string) error {
	opts, _, _, err := parseArgs(args)
	if err != nil {
		return err
	}
	cc, err := opts.context()
	if err != nil {
		return err
	}

	eng, repo, err := setup(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer repo.Close()

	facts, err := eng.ListFacts(context.Background(), cc)
	if err != nil {
		return err
	}
	if len(facts) == 0 {
		fmt.Println("No facts stored.")
		return nil
	}
	for i, f := range facts {
		marker := " "
		if f.Status == memory.StatusInactive {
			marker = "×"
		}
		fmt.Printf("%3d. [%s] %-20s %.2f  %s  (%s)\n", i+1, marker, f.Type, f.Confidence, f.Value, f.ID)
	}
	return nil
}

func runAdd(args []string) error {
	opts, extra, positional, err := parseArgs(args)
	if err != nil {
		return err
	}
	cc, err := opts.context()
	if err != nil {
		return err
	}

	typeStr := extra["type"]
	if typeStr == "" {
		typeStr = string(memory.TypeOther)
	}
	ft := memory.FactType(typeStr)
	if !memory.KnownType(ft) {
		return fmt.Errorf("unknown fact type %q", typeStr)
	}
	if len(positional) == 0 {
		return fmt.Errorf("usage: charknowledge add --conversation <id> --persona <id> [--type <type>] [--confidence <0..1>] [--tags a,b] <value>")
	}
	value := strings.Join(positional, " ")

	confidence := memory.DefaultConfidence
	if raw := extra["confidence"]; raw != "" {
		confidence, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid confidence %q", raw)
		}
	}
	var tags []string
	for _, tag := range strings.Split(extra["tags"], ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	eng, repo, err := setup(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer repo.Close()

	fact, applied, err := eng.AddFact(context.Background(), cc, ft, value, confidence, tags, "manual")
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("persona %q does not own this conversation's memory", cc.PersonaID)
	}
	fmt.Printf("Added %s (%s).\n", fact.ID, fact.Type)
	return nil
}

func runExport(args []string) error {
	opts, extra, _, err := parseArgs(args)
	if err != nil {
		return err
	}
	cc, err := opts.context()
	if err != nil {
		return err
	}

	eng, repo, err := setup(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer repo.Close()

	var out io.Writer = os.Stdout
	if path := extra["out"]; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
		defer f.Close()
		out = f
	}
	return eng.Export(context.Background(), cc, out)
}

func runImport(args []string) error {
	opts, _, positional, err := parseArgs(args)
	if err != nil {
		return err
	}
	cc, err := opts.context()
	if err != nil {
		return err
	}
	if len(positional) != 1 {
		return fmt.Errorf("usage: charknowledge import --conversation <id> --persona <id> <file|->")
	}

	var in io.Reader = os.Stdin
	if positional[0] != "-" {
		f, err := os.Open(positional[0])
		if err != nil {
			return fmt.Errorf("opening %s: %w", positional[0], err)
		}
		defer f.Close()
		in = f
	}

	eng, repo, err := setup(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer repo.Close()

	applied, err := eng.Import(context.Background(), cc, in)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("persona %q does not own this conversation's memory", cc.PersonaID)
	}
	stats, err := eng.StoreStats(context.Background(), cc)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d facts.\n", stats.Facts)
	return nil
}

func runStats(args []string) error {
	opts, _, _, err := parseArgs(args)
	if err != nil {
		return err
	}
	cc, err := opts.context()
	if err != nil {
		return err
	}

	eng, repo, err := setup(opts, zap.NewNop())
	if err != nil {
		return err
	}
	defer repo.Close()

	stats, err := eng.StoreStats(context.Background(), cc)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runServe(args []string) error {
	opts, _, _, err := parseArgs(args)
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	eng, repo, err := setup(opts, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	srv := mcp.NewServer(mcp.ServerConfig{Engine: eng, Version: version})
	log.Info("serving MCP over stdio", zap.String("version", version))
	return server.ServeStdio(srv)
}

func printUsage() {
	fmt.Printf(`charknowledge %s - per-conversation user memory for roleplay chat

Usage:
  charknowledge <command> [flags] [arguments]

Commands:
  observe <text>      Extract facts from a user utterance and merge them
  inject [text]       Print the advisory injection block for a conversation
  list                List stored facts, active and inactive
  add <value>         Manually add a fact
  export              Export the memory store as JSON
  import <file|->     Import a previously exported JSON file
  stats               Show fact counts and owner-lock state
  serve               Serve the memory tools over MCP stdio
  version             Print version

Shared Flags:
  --conversation <id>  Conversation the memory store is scoped to
  --persona <id>       Active user persona (writes require the owner)
  -g, --group          Mark the conversation as multi-party
  --db <path>          SQLite database path (default: %s)
  --config <path>      Config file path (default: %s)

Add Flags:
  --type <type>        Fact type (default: other)
  --confidence <0..1>  Confidence score (default: %.1f)
  --tags <a,b>         Comma-separated tags

Export Flags:
  --out <path>         Write to a file instead of stdout
`, version, store.DefaultDBPath, config.DefaultConfigPath(), memory.DefaultConfidence)
}
