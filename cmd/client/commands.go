package main

import (
	"fmt"
	"os"

	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/filemanager"
	"github.com/spf13/cobra"
)

// callCmd builds a command that issues one call and prints its result.
func callCmd(o *options, use, short string, args cobra.PositionalArgs, call func(s *session, args []string) *filemanager.Future) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			v, err := s.wait(cmd.Context(), call(s, args))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
}

func browseCmd(o *options) *cobra.Command {
	var flags string
	cmd := callCmd(o, "browse [path]", "list a folder", cobra.MaximumNArgs(1), func(s *session, args []string) *filemanager.Future {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}
		return s.manager.Browse(s.consumer, path, flags)
	})
	cmd.Flags().StringVar(&flags, "flags", "", "browse flags")
	return cmd
}

func loadCmd(o *options) *cobra.Command {
	var (
		flags    string
		encoding string
		maxSize  int64
		offset   int64
		out      string
	)
	cmd := &cobra.Command{
		Use:   "load path",
		Short: "read a file in chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			v, err := s.wait(cmd.Context(), s.manager.Load(s.consumer, args[0], flags, encoding, maxSize, offset))
			if err != nil {
				return err
			}
			b, _ := v.([]byte)
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}
			return os.WriteFile(out, b, 0o644)
		},
	}
	cmd.Flags().StringVar(&flags, "flags", "", "load flags")
	cmd.Flags().StringVar(&encoding, "encoding", "", "content encoding, BINARY for raw bytes")
	cmd.Flags().Int64Var(&maxSize, "max-size", filemanager.ChunkCap, "bytes requested per chunk")
	cmd.Flags().Int64Var(&offset, "offset", 0, "start offset")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to file instead of stdout")
	return cmd
}

func saveCmd(o *options) *cobra.Command {
	var (
		flags    string
		encoding string
	)
	cmd := &cobra.Command{
		Use:   "save local-file path",
		Short: "store a local file on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			s, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			v, err := s.wait(cmd.Context(), s.manager.Save(s.consumer, args[1], flags, encoding, data))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		},
	}
	cmd.Flags().StringVar(&flags, "flags", "", "save flags, APPEND appends")
	cmd.Flags().StringVar(&encoding, "encoding", "", "content encoding")
	return cmd
}

func deleteCmd(o *options) *cobra.Command {
	return callCmd(o, "delete path", "remove a file or folder", cobra.ExactArgs(1), func(s *session, args []string) *filemanager.Future {
		return s.manager.Delete(s.consumer, args[0])
	})
}

func renameCmd(o *options) *cobra.Command {
	var flags string
	cmd := callCmd(o, "rename path new-name", "rename within the same folder", cobra.ExactArgs(2), func(s *session, args []string) *filemanager.Future {
		return s.manager.Rename(s.consumer, args[0], args[1], flags)
	})
	cmd.Flags().StringVar(&flags, "flags", "", "rename flags")
	return cmd
}

func copyCmd(o *options) *cobra.Command {
	var cut bool
	cmd := callCmd(o, "copy source dest", "copy a file or folder", cobra.ExactArgs(2), func(s *session, args []string) *filemanager.Future {
		flags := ""
		if cut {
			flags = "CUT"
		}
		return s.manager.Copy(s.consumer, args[0], args[1], flags)
	})
	cmd.Flags().BoolVar(&cut, "cut", false, "move instead of copy")
	return cmd
}

func lockCmd(o *options) *cobra.Command {
	return callCmd(o, "lock path", "lock a path for this consumer", cobra.ExactArgs(1), func(s *session, args []string) *filemanager.Future {
		return s.manager.Lock(s.consumer, args[0])
	})
}

func clearFlagsCmd(o *options) *cobra.Command {
	return callCmd(o, "clear path", "release this consumer's lock", cobra.ExactArgs(1), func(s *session, args []string) *filemanager.Future {
		return s.manager.ClearFlags(s.consumer, args[0])
	})
}

func createFolderCmd(o *options) *cobra.Command {
	return callCmd(o, "mkdir path", "create a folder", cobra.ExactArgs(1), func(s *session, args []string) *filemanager.Future {
		return s.manager.CreateFolder(s.consumer, args[0])
	})
}

func restrictionCmd(o *options) *cobra.Command {
	return callCmd(o, "restriction component", "show a component's restrictions", cobra.ExactArgs(1), func(s *session, args []string) *filemanager.Future {
		return s.manager.Restriction(s.consumer, args[0])
	})
}

func errorsCmd(o *options) *cobra.Command {
	return callCmd(o, "errors", "show recent server errors", cobra.NoArgs, func(s *session, _ []string) *filemanager.Future {
		return s.manager.Error(s.consumer)
	})
}

func watchCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "print notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			err = s.manager.Notification(s.consumer, func(t *transport.Telegram) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
					t.Params.String(transport.ParamEvent), t.Params.String(transport.ParamPath))
			})
			if err != nil {
				return err
			}
			<-cmd.Context().Done()
			return nil
		},
	}
}
