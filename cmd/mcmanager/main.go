package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	API        APIFlags
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)

	root.AddCommand(
		createServeCommand(globalFlags),
		createStartCommand(globalFlags),
		createStopCommand(globalFlags),
		createStatusCommand(globalFlags),
		createSendCommand(globalFlags),
		createLogsCommand(globalFlags),
		createPlayitCommand(globalFlags),
		createBackupCommand(globalFlags),
		createTunnelCommand(globalFlags),
		createCrashCheckCommand(),
		createTemplateCommand(),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags.
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "mcmanager",
		Short: "Minecraft server launcher and supervisor",
		Long: `mcmanager runs Minecraft servers as supervised child processes,
captures their console, archives their worlds and manages a playit.gg tunnel.

Examples:
  mcmanager serve --config mcmanager.toml
  mcmanager start survival --cmd "java -Xmx4G -jar server.jar nogui"
  mcmanager send survival "say hello"
  mcmanager backup create survival
  mcmanager crash-check --file servers/survival/logs/latest.log`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.API.URL, "api-url", "", "daemon API base URL (default from [server] config)")
	root.PersistentFlags().StringVar(&flags.API.Token, "token", "", "bearer token for the daemon API (default from [server.auth] config)")
	root.PersistentFlags().DurationVar(&flags.API.Timeout, "api-timeout", defaultAPITimeout, "daemon API request timeout")
	return root
}
