package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"switchboard/config"
	"switchboard/protocol"
	"switchboard/provider"
)

const Version = "v0.01.00"

func main() {
	providerID := flag.String("provider", "", "provider id to use (default from config)")
	model := flag.String("model", "", "model to use (default from provider config)")
	system := flag.String("system", "", "system prompt (default from config)")
	listModels := flag.Bool("list-models", false, "list the selected provider's models and exit")
	noStream := flag.Bool("no-stream", false, "wait for the full response instead of streaming")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Println("switchboard", Version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	config.InitDebugLog(cfg.DataDir())

	providers := provider.InitializeProviders(cfg)
	if len(providers) == 0 {
		fatal("no providers enabled; edit %s/config.toml", cfg.DataDir())
	}

	id := cfg.DefaultProvider
	if *providerID != "" {
		id = *providerID
	}
	p, ok := providers[id]
	if !ok {
		fatal("provider %q is not enabled; have: %s", id, strings.Join(providerIDs(providers), ", "))
	}

	ctx := context.Background()

	if *listModels {
		printModels(ctx, p)
		return
	}

	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" {
		prompt = readStdinPrompt()
	}
	if prompt == "" {
		fatal("no prompt given; pass it as arguments or on stdin")
	}

	req := protocol.ChatRequest{
		Model:    *model,
		System:   *system,
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: prompt}},
	}
	if req.System == "" {
		req.System = cfg.DefaultSystemPrompt
	}

	if *noStream {
		resp, err := p.Chat(ctx, req)
		if err != nil {
			fatal("%v", err)
		}
		for _, blk := range resp.Blocks {
			if blk.Type == protocol.BlockText {
				fmt.Println(blk.Text)
			}
		}
		return
	}

	stream, err := p.ChatStream(ctx, req)
	if err != nil {
		fatal("%v", err)
	}
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		switch chunk.Type {
		case protocol.ChunkTextDelta:
			fmt.Print(chunk.Text)
		case protocol.ChunkToolUseEnd:
			fmt.Printf("\n[tool call] %s(%s)\n", chunk.ToolCall.Name, chunk.ToolCall.Input)
		case protocol.ChunkMessageEnd:
			fmt.Println()
			if config.Debug && chunk.Usage != nil {
				config.DebugLog.Printf("[CLI] stop=%s tokens=%d", chunk.StopReason, chunk.Usage.TotalTokens)
			}
		}
	}
	if err := stream.Err(); err != nil {
		fatal("%v", err)
	}
}

func printModels(ctx context.Context, p protocol.Provider) {
	models, err := p.ListModels(ctx)
	if err != nil {
		fatal("%v", err)
	}
	for _, m := range models {
		caps := ""
		if m.SupportsTools {
			caps += " tools"
		}
		if m.SupportsVision {
			caps += " vision"
		}
		fmt.Printf("%-50s %s%s\n", m.ID, m.Name, caps)
	}
}

// readStdinPrompt reads the prompt from stdin when it is a pipe, so
// `echo hi | switchboard` works. An interactive terminal yields nothing.
func readStdinPrompt() string {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return ""
	}
	var b strings.Builder
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func providerIDs(providers map[string]protocol.Provider) []string {
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
