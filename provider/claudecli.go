package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/google/uuid"

	"switchboard/config"
	"switchboard/protocol"
)

// ClaudeCLIProvider drives a local `claude` executable, billed to the user's
// subscription rather than an API key. The binary has no native tool-calling
// interface, so tool definitions are embedded into the prompt and tool
// invocations are parsed back out of its free-form output.
//
// One subprocess is spawned per call; the prompt is written to its stdin and
// the stream closed. Non-streaming mode parses one JSON result object from
// stdout; streaming mode parses one JSON event per stdout line.
type ClaudeCLIProvider struct {
	binary string
	model  string
}

// NewClaudeCLIProvider creates a CLI-backed provider.
//
// Parameters:
//   - binary: executable name or path (default "claude"; resolved via PATH)
//   - model: model alias passed with --model (default "claude-sonnet-4-5")
func NewClaudeCLIProvider(binary, model string) (*ClaudeCLIProvider, error) {
	if binary == "" {
		binary = "claude"
	}
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &ClaudeCLIProvider{binary: binary, model: model}, nil
}

// IsAvailable reports whether the executable is on PATH.
func (p *ClaudeCLIProvider) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(p.binary)
	return err == nil
}

// ListModels returns the curated model catalog; the CLI has no listing
// endpoint.
func (p *ClaudeCLIProvider) ListModels(ctx context.Context) ([]protocol.ModelInfo, error) {
	return claudeCLIModels(), nil
}

// cliUsage is the usage object the CLI reports, in Anthropic field names.
type cliUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

func (u cliUsage) toProtocol() protocol.TokenUsage {
	return protocol.TokenUsage{
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		CacheReadTokens:  u.CacheReadInputTokens,
		CacheWriteTokens: u.CacheCreationInputTokens,
	}.Resolved()
}

// cliResult is the single structured object returned in non-streaming mode
// and the terminal event of a stream.
type cliResult struct {
	Type         string              `json:"type"`
	Subtype      string              `json:"subtype"`
	IsError      bool                `json:"is_error"`
	Result       string              `json:"result"`
	StopReason   string              `json:"stop_reason"`
	Usage        cliUsage            `json:"usage"`
	ModelUsage   map[string]cliUsage `json:"modelUsage"`
	TotalCostUSD float64             `json:"total_cost_usd"`
}

// usageFor prefers the per-model usage map entry for the resolved model and
// falls back to the flat usage object. Unresolved fields stay 0.
func (r *cliResult) usageFor(model string) protocol.TokenUsage {
	if u, ok := r.ModelUsage[model]; ok {
		return u.toProtocol()
	}
	if len(r.ModelUsage) == 1 {
		for _, u := range r.ModelUsage {
			return u.toProtocol()
		}
	}
	return r.Usage.toProtocol()
}

// resolvedModel returns the concrete model name the CLI billed against when
// it reported one, else the requested alias.
func (r *cliResult) resolvedModel(requested string) string {
	if len(r.ModelUsage) == 1 {
		for name := range r.ModelUsage {
			return name
		}
	}
	return requested
}

// Chat runs the subprocess in single-result mode and blocks until it exits.
func (p *ClaudeCLIProvider) Chat(ctx context.Context, req protocol.ChatRequest) (*protocol.ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)
	defer cancel()

	model := p.requestModel(req)
	cmd := exec.CommandContext(ctx, p.binary, "-p", "--model", model, "--output-format", "json")
	cmd.Stdin = strings.NewReader(buildCLIPrompt(req))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil && stdout.Len() == 0 {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Provider: string(ProviderTypeClaudeCLI), Op: "chat", Limit: processTimeout}
		}
		return nil, newBackendError(string(ProviderTypeClaudeCLI), exitCode(cmd),
			fmt.Sprintf("process failed: %v: %s", runErr, stderr.String()))
	}

	var res cliResult
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, newBackendError(string(ProviderTypeClaudeCLI), 0,
			fmt.Sprintf("unparseable result: %v: %s", err, stdout.String()))
	}
	if res.IsError {
		return nil, newReportedError(string(ProviderTypeClaudeCLI), 0, res.Result)
	}

	text, calls := extractToolCalls(res.Result)
	var blocks []protocol.ContentBlock
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, protocol.NewTextBlock(text))
	}
	stop := protocol.StopEndTurn
	for _, call := range calls {
		blocks = append(blocks, protocol.NewToolUseBlock(newToolUseID(), call.Name, call.Input))
		stop = protocol.StopToolUse
	}

	return &protocol.ChatResponse{
		Blocks:     protocol.EnsureContent(blocks),
		StopReason: stop,
		Usage:      res.usageFor(res.resolvedModel(model)),
		Model:      res.resolvedModel(model),
	}, nil
}

// cliStreamLine is one line of stream-json output: either a stream_event
// wrapping a nested message event, or the terminal result object.
type cliStreamLine struct {
	Type  string    `json:"type"`
	Event *cliEvent `json:"event"`
}

type cliEvent struct {
	Type         string         `json:"type"`
	Index        int            `json:"index"`
	ContentBlock *cliBlockStart `json:"content_block"`
	Delta        *cliEventDelta `json:"delta"`
	Usage        *cliUsage      `json:"usage"`
}

type cliBlockStart struct {
	Type string `json:"type"`
}

type cliEventDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	Thinking   string `json:"thinking"`
	StopReason string `json:"stop_reason"`
}

// ChatStream runs the subprocess in stream-json mode and translates its
// line-delimited events into protocol chunks. Tool calls are reconstructed
// from the accumulated text after the process output ends, exactly as in
// the non-streaming path.
func (p *ClaudeCLIProvider) ChatStream(ctx context.Context, req protocol.ChatRequest) (*protocol.Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, processTimeout)

	model := p.requestModel(req)
	cmd := exec.CommandContext(ctx, p.binary,
		"-p", "--model", model, "--output-format", "stream-json", "--verbose")
	cmd.Stdin = strings.NewReader(buildCLIPrompt(req))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, newBackendError(string(ProviderTypeClaudeCLI), 0, err.Error())
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, newBackendError(string(ProviderTypeClaudeCLI), 0,
			fmt.Sprintf("launch failed: %v", err))
	}

	stream, w := protocol.NewStream(cancel)
	go p.pumpProcess(ctx, cancel, cmd, stdout, &stderr, model, w)
	return stream, nil
}

// pumpProcess owns the subprocess for the duration of one streaming call:
// it drains stdout, reaps the process, and closes the writer on every exit
// path. Cancellation (deadline or consumer Close) kills the process via the
// command's context.
func (p *ClaudeCLIProvider) pumpProcess(ctx context.Context, cancel context.CancelFunc,
	cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, model string, w *protocol.StreamWriter) {

	waited := false
	wait := func() error {
		if waited {
			return nil
		}
		waited = true
		return cmd.Wait()
	}
	defer w.Close()
	defer func() {
		cancel()
		wait()
	}()

	var textAcc strings.Builder
	blockTypes := make(map[int]string)
	thinkingOpen := false
	stop := protocol.StopEndTurn
	usage := protocol.TokenUsage{}
	producedOutput := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		producedOutput = true

		var ev cliStreamLine
		if err := json.Unmarshal(line, &ev); err != nil {
			// Malformed lines are skipped, never fatal.
			if config.DebugLog != nil {
				config.DebugLog.Printf("[ClaudeCLI] Skipping malformed stream line: %v", err)
			}
			continue
		}

		switch ev.Type {
		case "stream_event":
			if ev.Event == nil {
				continue
			}
			switch ev.Event.Type {
			case "content_block_start":
				if ev.Event.ContentBlock != nil {
					blockTypes[ev.Event.Index] = ev.Event.ContentBlock.Type
				}

			case "content_block_delta":
				if ev.Event.Delta == nil {
					continue
				}
				switch ev.Event.Delta.Type {
				case "text_delta":
					textAcc.WriteString(ev.Event.Delta.Text)
					if !w.Send(protocol.TextDeltaChunk(ev.Event.Delta.Text)) {
						return
					}
				case "thinking_delta":
					if !thinkingOpen {
						thinkingOpen = true
						if !w.Send(protocol.Chunk{Type: protocol.ChunkThinkingStart}) {
							return
						}
					}
					if !w.Send(protocol.Chunk{Type: protocol.ChunkThinkingDelta, Text: ev.Event.Delta.Thinking}) {
						return
					}
				}

			case "content_block_stop":
				if blockTypes[ev.Event.Index] == "thinking" && thinkingOpen {
					thinkingOpen = false
					if !w.Send(protocol.Chunk{Type: protocol.ChunkThinkingEnd}) {
						return
					}
				}

			case "message_delta":
				if ev.Event.Delta != nil && ev.Event.Delta.StopReason != "" {
					stop = normalizeStopReason(ev.Event.Delta.StopReason)
				}
				if ev.Event.Usage != nil {
					usage = mergeUsage(usage, ev.Event.Usage.toProtocol())
				}
			}

		case "result":
			var res cliResult
			if err := json.Unmarshal(line, &res); err != nil {
				continue
			}
			if res.IsError {
				w.Error(newReportedError(string(ProviderTypeClaudeCLI), 0, res.Result))
				return
			}
			usage = mergeUsage(usage, res.usageFor(res.resolvedModel(model)))
		}
	}

	if err := scanner.Err(); err != nil {
		w.Error(wrapCallError(ctx, string(ProviderTypeClaudeCLI), "chat stream", processTimeout, err))
		return
	}
	if ctx.Err() == context.DeadlineExceeded {
		w.Error(&TimeoutError{Provider: string(ProviderTypeClaudeCLI), Op: "chat stream", Limit: processTimeout})
		return
	}

	if waitErr := wait(); waitErr != nil && !producedOutput {
		w.Error(newBackendError(string(ProviderTypeClaudeCLI), exitCode(cmd),
			fmt.Sprintf("process failed: %v: %s", waitErr, stderr.String())))
		return
	}

	// Reconstruct tool calls from the accumulated plain text.
	_, calls := extractToolCalls(textAcc.String())
	for _, call := range calls {
		stop = protocol.StopToolUse
		id := newToolUseID()
		args := string(call.Input)
		if args == "" {
			args = "{}"
		}
		tc := &protocol.ToolCallChunk{ID: id, Name: call.Name, Input: args}
		if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseStart, ToolCall: &protocol.ToolCallChunk{ID: id, Name: call.Name}}) {
			return
		}
		if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseDelta, ToolCall: tc}) {
			return
		}
		if !w.Send(protocol.Chunk{Type: protocol.ChunkToolUseEnd, ToolCall: tc}) {
			return
		}
	}

	w.Send(protocol.MessageEndChunk(stop, usage))
}

func (p *ClaudeCLIProvider) requestModel(req protocol.ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

// normalizeStopReason maps a backend stop reason onto the fixed protocol
// enumeration; unknown values map to end_turn, never error.
func normalizeStopReason(reason string) protocol.StopReason {
	switch reason {
	case "tool_use":
		return protocol.StopToolUse
	case "max_tokens":
		return protocol.StopMaxTokens
	default:
		return protocol.StopEndTurn
	}
}

// mergeUsage overlays non-zero fields of b onto a; partial usage arrives
// across several events.
func mergeUsage(a, b protocol.TokenUsage) protocol.TokenUsage {
	if b.InputTokens != 0 {
		a.InputTokens = b.InputTokens
	}
	if b.OutputTokens != 0 {
		a.OutputTokens = b.OutputTokens
	}
	if b.CacheReadTokens != 0 {
		a.CacheReadTokens = b.CacheReadTokens
	}
	if b.CacheWriteTokens != 0 {
		a.CacheWriteTokens = b.CacheWriteTokens
	}
	a.TotalTokens = 0
	return a.Resolved()
}

func exitCode(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return 0
	}
	return cmd.ProcessState.ExitCode()
}

func newToolUseID() string {
	return "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// claudeCLIModels is the curated catalog for the CLI backend.
func claudeCLIModels() []protocol.ModelInfo {
	providerID := string(ProviderTypeClaudeCLI)
	return []protocol.ModelInfo{
		{
			ID: "claude-opus-4-5", Name: "Claude Opus 4.5", Provider: providerID,
			ContextWindow: 200000, MaxOutputTokens: 32000, SupportsTools: true, SupportsVision: true,
		},
		{
			ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Provider: providerID,
			ContextWindow: 200000, MaxOutputTokens: 64000, SupportsTools: true, SupportsVision: true,
		},
		{
			ID: "claude-haiku-4-5", Name: "Claude Haiku 4.5", Provider: providerID,
			ContextWindow: 200000, MaxOutputTokens: 64000, SupportsTools: true, SupportsVision: true,
		},
	}
}
