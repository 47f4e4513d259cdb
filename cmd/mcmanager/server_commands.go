package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/mcmanager/internal/config"
	"github.com/loykin/mcmanager/pkg/client"
	"github.com/loykin/mcmanager/pkg/template"
)

func createStartCommand(g *GlobalFlags) *cobra.Command {
	flags := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start NAME",
		Short: "Start a server on the daemon",
		Long: `Start a server under the running daemon. The working directory
defaults to <data_dir>/servers/NAME.

The command line comes from --cmd, a JSON file written by
"mcmanager template create" (--template), or a server type (--type).

Examples:
  mcmanager start survival --cmd "java -Xmx4G -jar server.jar nogui"
  mcmanager start creative --cmd "./run.sh" --auto-restart --env EULA=true
  mcmanager start lobby --type paper --memory 4G
  mcmanager start modded --template templates/modded.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := startBodyFromFlags(args[0], flags, cmd.Flags().Changed("auto-restart"))
			if err != nil {
				return err
			}
			c, err := clientFromFlags(g)
			if err != nil {
				return err
			}
			st, err := c.StartServer(cmd.Context(), args[0], body)
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), st)
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.Cmd, "cmd", "", "command line to launch")
	cmd.Flags().StringVar(&flags.Template, "template", "", "JSON launch template file")
	cmd.Flags().StringVar(&flags.Type, "type", "", "generate the command for a server type (vanilla, paper, purpur, fabric, forge)")
	cmd.Flags().StringVar(&flags.Memory, "memory", "", "heap size for --type, e.g. 4G")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "absolute working directory")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "extra KEY=VALUE environment (repeatable)")
	cmd.Flags().StringArrayVar(&flags.EnvFiles, "env-file", nil, ".env file to add to the environment (repeatable)")
	cmd.Flags().BoolVar(&flags.AutoRestart, "auto-restart", false, "restart the server after a crash")
	return cmd
}

// startBodyFromFlags builds the start request. Explicit flags override
// values taken from --template or --type.
func startBodyFromFlags(name string, f *StartFlags, autoRestartSet bool) (client.StartRequest, error) {
	var body client.StartRequest
	var env []string
	switch {
	case f.Template != "":
		tpl, err := template.Load(f.Template)
		if err != nil {
			return client.StartRequest{}, err
		}
		body = client.StartRequest{WorkDir: tpl.WorkDir, Command: tpl.Command, AutoRestart: tpl.AutoRestart}
		env = append(env, tpl.Env...)
	case f.Type != "":
		tpl, err := template.NewGenerator().Generate(template.ServerType(f.Type), name, template.Options{Memory: f.Memory})
		if err != nil {
			return client.StartRequest{}, err
		}
		body = client.StartRequest{Command: tpl.Command, AutoRestart: tpl.AutoRestart}
		env = append(env, tpl.Env...)
	}
	if strings.TrimSpace(f.Cmd) != "" {
		body.Command = f.Cmd
	}
	if strings.TrimSpace(body.Command) == "" {
		return client.StartRequest{}, fmt.Errorf("one of --cmd, --template or --type is required")
	}
	for _, p := range f.EnvFiles {
		pairs, err := config.LoadEnvFile(p)
		if err != nil {
			return client.StartRequest{}, fmt.Errorf("env file %s: %w", p, err)
		}
		env = append(env, pairs...)
	}
	body.Env = append(env, f.Env...)
	if f.WorkDir != "" {
		body.WorkDir = f.WorkDir
	}
	if autoRestartSet {
		v := f.AutoRestart
		body.AutoRestart = &v
	}
	return body, nil
}

func createStopCommand(g *GlobalFlags) *cobra.Command {
	flags := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop NAME",
		Short: "Stop a server gracefully, killing it after --wait",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromFlags(g)
			if err != nil {
				return err
			}
			if err := c.StopServer(cmd.Context(), args[0], flags.Wait); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stopped %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().DurationVar(&flags.Wait, "wait", 0, "grace period before the process is killed (default from config)")
	return cmd
}

func createStatusCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [NAME]",
		Short: "Show one server's status, or list every server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromFlags(g)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				servers, err := c.ListServers(cmd.Context())
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), servers)
				return nil
			}
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func createSendCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "send NAME COMMAND...",
		Short: "Send a console command to a running server",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromFlags(g)
			if err != nil {
				return err
			}
			return c.SendCommand(cmd.Context(), args[0], strings.Join(args[1:], " "))
		},
	}
}

func createLogsCommand(g *GlobalFlags) *cobra.Command {
	flags := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs NAME",
		Short: "Print a server's console scrollback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromFlags(g)
			if err != nil {
				return err
			}
			lines, err := c.Logs(cmd.Context(), args[0], flags.Merge)
			if err != nil {
				return err
			}
			printLines(cmd.OutOrStdout(), tail(lines, flags.Tail))
			return nil
		},
	}
	cmd.Flags().BoolVar(&flags.Merge, "merge", false, "merge with logs/latest.log on disk")
	cmd.Flags().IntVar(&flags.Tail, "tail", 0, "print only the last N lines")
	return cmd
}

func createPlayitCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playit",
		Short: "Control the playit.gg tunnel agent on the daemon",
	}
	for _, action := range []struct {
		use, short string
		run        func(ctx context.Context, c *client.Client) (any, error)
	}{
		{"start", "Start the tunnel agent", func(ctx context.Context, c *client.Client) (any, error) {
			return c.PlayitStart(ctx)
		}},
		{"stop", "Stop every tunnel agent process", func(ctx context.Context, c *client.Client) (any, error) {
			return map[string]bool{"ok": true}, c.PlayitStop(ctx)
		}},
		{"status", "Show agent status and the tunnel address", func(ctx context.Context, c *client.Client) (any, error) {
			return c.PlayitStatus(ctx)
		}},
		{"detect", "Search logs and agent files for the tunnel address", func(ctx context.Context, c *client.Client) (any, error) {
			return c.PlayitDetect(ctx)
		}},
	} {
		cmd.AddCommand(&cobra.Command{
			Use:   action.use,
			Short: action.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				c, err := clientFromFlags(g)
				if err != nil {
					return err
				}
				out, err := action.run(cmd.Context(), c)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), out)
				return nil
			},
		})
	}
	return cmd
}
