package marketdata

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeServer drops an executable script that consumes stdin and
// prints the given stdout verbatim.
func writeFakeServer(t *testing.T, stdout string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake server script requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "fake-server")
	script := "#!/bin/sh\ncat > /dev/null\nprintf '%s' '" + stdout + "'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRPCClientCallTool(t *testing.T) {
	stdout := `{"jsonrpc":"2.0","id":1,"result":{"capabilities":{}}}
{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"{\"ticker\":\"AAPL\",\"max_pain\":210}"}]}}
`
	client := NewRPCClient(writeFakeServer(t, stdout), 5*time.Second)

	payload, err := client.CallTool(context.Background(), "analyze_open_interest", map[string]any{"ticker": "AAPL"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ticker":"AAPL","max_pain":210}`, string(payload))
}

func TestRPCClientSkipsLogNoise(t *testing.T) {
	stdout := `starting server...
{"jsonrpc":"2.0","id":1,"result":{}}
loaded 3 feeds
{"jsonrpc":"2.0","id":2,"result":{"content":[{"type":"text","text":"{\"ok\":true}"}]}}
`
	client := NewRPCClient(writeFakeServer(t, stdout), 5*time.Second)

	payload, err := client.CallTool(context.Background(), "analyze_open_interest", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(payload))
}

func TestRPCClientToolError(t *testing.T) {
	stdout := `{"jsonrpc":"2.0","id":2,"error":{"code":-32602,"message":"unknown ticker"}}
`
	client := NewRPCClient(writeFakeServer(t, stdout), 5*time.Second)

	_, err := client.CallTool(context.Background(), "analyze_open_interest", map[string]any{"ticker": "ZZZZ"})
	assert.ErrorContains(t, err, "unknown ticker")
}

func TestRPCClientNoResponse(t *testing.T) {
	client := NewRPCClient(writeFakeServer(t, ""), 5*time.Second)

	_, err := client.CallTool(context.Background(), "analyze_open_interest", nil)
	assert.ErrorContains(t, err, "no rpc response")
}

func TestRPCClientUnconfigured(t *testing.T) {
	client := NewRPCClient("", time.Second)

	_, err := client.CallTool(context.Background(), "analyze_open_interest", nil)
	assert.ErrorContains(t, err, "not configured")
}
