package marketdata

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const protocolVersion = "2024-11-05"

// rpcRequest is a single JSON-RPC 2.0 message. Notifications carry no id.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int   `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// toolCallResult is the payload shape the market-data servers return:
// the useful data sits JSON-encoded inside content[0].text.
type toolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// RPCClient drives an external market-data server over line-delimited
// JSON-RPC on stdio. The server is spawned per call: the handshake and
// the tool call are written in one shot, stdin is closed, and the
// responses are read back from stdout.
type RPCClient struct {
	command string
	timeout time.Duration
}

// NewRPCClient creates a client for the given server executable.
func NewRPCClient(command string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RPCClient{command: command, timeout: timeout}
}

// CallTool invokes a named tool on the server and returns the decoded
// result payload.
func (c *RPCClient) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	if c.command == "" {
		return nil, errors.New("market-data command not configured")
	}

	initID, callID := 1, 2
	input, err := encodeLines(
		rpcRequest{
			JSONRPC: "2.0",
			ID:      &initID,
			Method:  "initialize",
			Params: map[string]any{
				"protocolVersion": protocolVersion,
				"capabilities":    map[string]any{},
				"clientInfo":      map[string]any{"name": "advisor", "version": "1.0.0"},
			},
		},
		rpcRequest{JSONRPC: "2.0", Method: "notifications/initialized"},
		rpcRequest{
			JSONRPC: "2.0",
			ID:      &callID,
			Method:  "tools/call",
			Params:  map[string]any{"name": name, "arguments": arguments},
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode rpc request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, c.command)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, errors.Errorf("%s exited %d: %s",
				c.command, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, errors.Wrapf(err, "failed to run %s", c.command)
	}

	response, err := lastResponse(out, callID)
	if err != nil {
		return nil, err
	}
	if response.Error != nil {
		return nil, errors.Errorf("tool %s failed: %s (code %d)",
			name, response.Error.Message, response.Error.Code)
	}

	payload, err := extractToolText(response.Result)
	if err != nil {
		return nil, errors.Wrapf(err, "tool %s returned malformed result", name)
	}

	slog.Debug("market-data tool call completed",
		"command", c.command, "tool", name, "duration", time.Since(start))
	return payload, nil
}

func encodeLines(requests ...rpcRequest) ([]byte, error) {
	var buf bytes.Buffer
	for _, req := range requests {
		line, err := json.Marshal(req)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// lastResponse scans stdout for JSON lines and returns the response
// matching the tool-call id. Servers are free to interleave log noise
// between responses; non-JSON lines are skipped.
func lastResponse(out []byte, id int) (*rpcResponse, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var match *rpcResponse
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var response rpcResponse
		if err := json.Unmarshal([]byte(line), &response); err != nil {
			continue
		}
		if response.ID != nil && *response.ID == id {
			copied := response
			match = &copied
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read rpc output")
	}
	if match == nil {
		return nil, errors.New("no rpc response for tool call")
	}
	return match, nil
}

func extractToolText(result json.RawMessage) (json.RawMessage, error) {
	var decoded toolCallResult
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Content) == 0 {
		return nil, errors.New("empty content")
	}
	text := decoded.Content[0].Text
	if !json.Valid([]byte(text)) {
		return nil, errors.New("content text is not valid JSON")
	}
	return json.RawMessage(text), nil
}
