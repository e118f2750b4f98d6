package server

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestMCPServerWithInMemoryTransport(t *testing.T) {
	srv := NewMCP("0.1.0-test", testLogger())
	require.NotNil(t, srv.Server())

	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Server().Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)

	initResult := cs.InitializeResult()
	require.NotNil(t, initResult)
	assert.Equal(t, "moviechat", initResult.ServerInfo.Name)
	assert.Equal(t, "0.1.0-test", initResult.ServerInfo.Version)

	for i := 0; i < 3; i++ {
		toolsResult, err := cs.ListTools(ctx, nil)
		require.NoError(t, err, "request %d", i)
		assert.Empty(t, toolsResult.Tools)
	}

	assert.NoError(t, cs.Close())
	cancel()

	select {
	case err := <-serverErr:
		if err != nil {
			t.Logf("server stopped with: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server did not stop within timeout")
	}
}
