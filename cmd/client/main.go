package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/danmuck/dps_filemanager/cmd/internal/logcfg"
	"github.com/danmuck/dps_filemanager/src/api"
	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/filemanager"
	logs "github.com/danmuck/smplog"
	"github.com/spf13/cobra"
)

type options struct {
	addr       string
	wsURL      string
	consumer   string
	configPath string
	timeout    time.Duration
}

type session struct {
	manager  *filemanager.Manager
	link     api.Link
	consumer string
	timeout  time.Duration
}

// open connects a gateway and attaches the configured consumer.
func (o *options) open(ctx context.Context) (*session, error) {
	cfg := filemanager.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = filemanager.LoadConfig(o.configPath); err != nil {
			return nil, err
		}
	}

	var link api.Link = transport.NewTCPLink(o.addr)
	if o.wsURL != "" {
		link = transport.NewWSLink(o.wsURL)
	}
	m := filemanager.New(link, filemanager.WithConfig(cfg))
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	m.Attach(o.consumer)
	logs.Debugf("open(): %s attached", o.consumer)
	return &session{manager: m, link: link, consumer: o.consumer, timeout: o.timeout}, nil
}

func (s *session) close() {
	s.manager.Detach(s.consumer)
	s.manager.Close()
	s.link.Close()
}

// wait blocks on f within the session timeout.
func (s *session) wait(ctx context.Context, f *filemanager.Future) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return f.Wait(ctx)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func rootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:           "fmclient",
		Short:         "talk to a file server through the FileManager gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.addr, "addr", "localhost:9000", "file server TCP address")
	flags.StringVar(&o.wsURL, "ws", "", "file server WebSocket URL, replaces --addr")
	flags.StringVar(&o.consumer, "consumer", "cli", "consumer id sent as elemId")
	flags.StringVar(&o.configPath, "config", "", "gateway TOML config file")
	flags.DurationVar(&o.timeout, "timeout", 30*time.Second, "per call timeout")

	cmd.AddCommand(
		browseCmd(o),
		loadCmd(o),
		saveCmd(o),
		deleteCmd(o),
		renameCmd(o),
		copyCmd(o),
		lockCmd(o),
		clearFlagsCmd(o),
		createFolderCmd(o),
		restrictionCmd(o),
		errorsCmd(o),
		watchCmd(o),
	)
	return cmd
}

func main() {
	logcfg.Setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
