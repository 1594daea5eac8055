package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) (string, string) {
	t.Helper()
	cfg := backend.DefaultConfig()
	cfg.Root = t.TempDir()
	s, err := backend.New(cfg)
	require.NoError(t, err)

	h := transport.NewTCPHandler("localhost:0", make(chan any))
	require.NoError(t, h.ListenAndAccept())
	go s.Serve(h)
	t.Cleanup(func() {
		h.Close()
		s.Close()
	})
	return h.Addr(), cfg.Root
}

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(append([]string{"--addr", addr, "--timeout", "5s"}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestClientCommands(t *testing.T) {
	addr, root := startServer(t)

	local := filepath.Join(t.TempDir(), "in.txt")
	require.NoError(t, os.WriteFile(local, []byte("payload"), 0o644))

	_, err := run(t, addr, "mkdir", "/docs")
	require.NoError(t, err)
	_, err = run(t, addr, "save", local, "/docs/in.txt")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "docs", "in.txt"))

	out, err := run(t, addr, "load", "/docs/in.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", out)

	out, err = run(t, addr, "browse", "/docs")
	require.NoError(t, err)
	assert.Contains(t, out, `"Name": "in.txt"`)

	_, err = run(t, addr, "delete", "/docs/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestClientConnectFailure(t *testing.T) {
	_, err := run(t, "127.0.0.1:1", "browse")
	require.Error(t, err)
}
