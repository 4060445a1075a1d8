package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/agentdesk/agentdesk/internal/event"
	"github.com/agentdesk/agentdesk/internal/logging"
	"github.com/agentdesk/agentdesk/pkg/types"
)

// CLI drives the agent as a subprocess. Each Send spawns one process run:
// the user content goes to stdin, and the process streams NDJSON events on
// stdout, which are published synchronously on the bus in arrival order.
type CLI struct {
	bus     *event.Bus
	command string
	args    []string
	log     zerolog.Logger

	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

// NewCLI creates a subprocess-backed client.
func NewCLI(bus *event.Bus, command string, args []string) *CLI {
	return &CLI{
		bus:     bus,
		command: command,
		args:    args,
		log:     logging.Component("backend"),
		procs:   make(map[string]*exec.Cmd),
	}
}

// wireEvent is one NDJSON line on the agent's stdout.
type wireEvent struct {
	Type event.EventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *CLI) Send(ctx context.Context, sessionID string, content string, opts SendOptions) error {
	c.mu.Lock()
	if _, running := c.procs[sessionID]; running {
		c.mu.Unlock()
		return fmt.Errorf("session %s already has an active run", sessionID)
	}

	args := append(append([]string(nil), c.args...), "--session", sessionID)
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.ExecutionMode != "" {
		args = append(args, "--mode", string(opts.ExecutionMode))
	}
	if opts.ThinkingLevel != "" {
		args = append(args, "--thinking", string(opts.ThinkingLevel))
	}
	for _, a := range opts.Attachments {
		args = append(args, "--attach", a)
	}

	cmd := exec.Command(c.command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("start agent: %w", err)
	}
	c.procs[sessionID] = cmd
	c.mu.Unlock()

	go func() {
		io.WriteString(stdin, content)
		stdin.Close()
	}()
	go c.pump(sessionID, cmd, stdout)
	return nil
}

// pump reads the agent's event stream until the process exits. A process
// that dies without emitting a terminal event gets a synthesized error so
// the session never sticks in running.
func (c *CLI) pump(sessionID string, cmd *exec.Cmd, stdout io.Reader) {
	defer func() {
		c.mu.Lock()
		delete(c.procs, sessionID)
		c.mu.Unlock()
	}()

	terminal := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var we wireEvent
		if err := json.Unmarshal(line, &we); err != nil {
			c.log.Debug().Str("session_id", sessionID).Msg("skipping malformed agent line")
			continue
		}
		data, ok := decodePayload(we, sessionID)
		if !ok {
			c.log.Warn().Str("type", string(we.Type)).Msg("unknown agent event type")
			continue
		}
		switch we.Type {
		case event.ChatDone, event.ChatError, event.ChatCancelled:
			terminal = true
		}
		c.bus.PublishSync(event.Event{Type: we.Type, Data: data})
	}

	err := cmd.Wait()
	if terminal {
		return
	}
	msg := "agent exited without finishing the run"
	if err != nil {
		msg = err.Error()
	}
	c.bus.PublishSync(event.Event{
		Type: event.ChatError,
		Data: event.ErrorData{SessionID: sessionID, Error: msg},
	})
}

// decodePayload unmarshals an agent event into its typed payload, stamping
// the session id the process belongs to.
func decodePayload(we wireEvent, sessionID string) (any, bool) {
	unmarshal := func(v any) bool {
		if len(we.Data) == 0 {
			return true
		}
		return json.Unmarshal(we.Data, v) == nil
	}

	switch we.Type {
	case event.ChatSending:
		var d event.SendingData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatChunk:
		var d event.ChunkData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatToolUse:
		var d event.ToolUseData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatToolBlock:
		var d event.ToolBlockData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatThinking:
		var d event.ThinkingData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatToolResult:
		var d event.ToolResultData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatPermissionDenied:
		var d event.PermissionDeniedData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatDone:
		var d event.DoneData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatError:
		var d event.ErrorData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatCancelled:
		var d event.CancelledData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatCompacting:
		var d event.CompactingData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatCompacted:
		var d event.CompactedData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	case event.ChatSettingChanged:
		var d event.SettingChangedData
		if !unmarshal(&d) {
			return nil, false
		}
		d.SessionID = sessionID
		return d, true
	}
	return nil, false
}

// Cancel interrupts the session's active run. The agent is expected to
// flush partial output and emit a cancelled event before exiting.
func (c *CLI) Cancel(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	cmd, ok := c.procs[sessionID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return cmd.Process.Signal(syscall.SIGINT)
}

// GenerateDigest runs the agent in one-shot digest mode and parses its
// JSON output.
func (c *CLI) GenerateDigest(ctx context.Context, sessionID string, model string) (*types.Digest, error) {
	args := append(append([]string(nil), c.args...), "digest", "--session", sessionID)
	if model != "" {
		args = append(args, "--model", model)
	}
	out, err := exec.CommandContext(ctx, c.command, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("agent digest: %w", err)
	}
	var d types.Digest
	if err := json.Unmarshal(out, &d); err != nil {
		return nil, fmt.Errorf("parse digest: %w", err)
	}
	return &d, nil
}

var _ Client = (*CLI)(nil)
