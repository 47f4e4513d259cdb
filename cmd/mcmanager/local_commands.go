package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loykin/mcmanager/internal/backup"
	"github.com/loykin/mcmanager/internal/logbuf"
	"github.com/loykin/mcmanager/internal/tunnel"
)

// errCrashFound makes crash-check exit non-zero when a crash is detected.
var errCrashFound = errors.New("crash signature found")

// createBackupCommand works directly on the data directory; run it while
// the affected servers are stopped.
func createBackupCommand(g *GlobalFlags) *cobra.Command {
	flags := &BackupFlags{}
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, restore and prune world backups",
		Long: `Manage zip backups under <data_dir>/backups without a running daemon.
Archives are named <server>_<YYYY-MM-DD_HH-MM-SS>.zip and skip the
logs, crash-reports and cache directories.

Examples:
  mcmanager backup create survival
  mcmanager backup list --server survival
  mcmanager backup restore survival_2024-05-01_03-00-00 --force
  mcmanager backup prune --keep 5`,
	}

	create := &cobra.Command{
		Use:   "create NAME...",
		Short: "Archive one or more server directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadLocal(g)
			if err != nil {
				return err
			}
			arch := archiverFor(cfg, log)
			layout := cfg.Layout()
			var created []backup.Info
			for _, name := range args {
				dir, err := layout.ServerDir(name)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				info, err := arch.Create(cmd.Context(), name, dir)
				if err != nil {
					return err
				}
				created = append(created, info)
			}
			if _, err := arch.Prune(cfg.Backup.Keep); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), created)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadLocal(g)
			if err != nil {
				return err
			}
			arch := archiverFor(cfg, log)
			var infos []backup.Info
			if flags.Server != "" {
				infos, err = arch.ListServer(flags.Server)
			} else {
				infos, err = arch.List()
			}
			if err != nil {
				return err
			}
			if infos == nil {
				infos = []backup.Info{}
			}
			printJSON(cmd.OutOrStdout(), infos)
			return nil
		},
	}
	list.Flags().StringVar(&flags.Server, "server", "", "only list this server's backups")

	restore := &cobra.Command{
		Use:   "restore BACKUP",
		Short: "Replace a server directory with a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !flags.Force {
				return errors.New("restore deletes the current server directory; stop the server and pass --force")
			}
			cfg, log, err := loadLocal(g)
			if err != nil {
				return err
			}
			server := flags.Server
			if server == "" {
				server = backup.ServerOf(args[0])
			}
			dir, err := cfg.Layout().ServerDir(server)
			if err != nil {
				return fmt.Errorf("%s: %w", server, err)
			}
			if err := archiverFor(cfg, log).Restore(cmd.Context(), args[0], dir); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "restored %s into %s\n", args[0], dir)
			return nil
		},
	}
	restore.Flags().StringVar(&flags.Server, "server", "", "target server (default: the server the backup was taken from)")
	restore.Flags().BoolVar(&flags.Force, "force", false, "confirm replacing the server directory")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadLocal(g)
			if err != nil {
				return err
			}
			keep := flags.Keep
			if keep <= 0 {
				keep = cfg.Backup.Keep
			}
			arch := archiverFor(cfg, log)
			var removed []string
			if flags.Server != "" {
				removed, err = arch.PruneServer(flags.Server, keep)
			} else {
				removed, err = arch.Prune(keep)
			}
			if err != nil {
				return err
			}
			if removed == nil {
				removed = []string{}
			}
			printJSON(cmd.OutOrStdout(), removed)
			return nil
		},
	}
	prune.Flags().IntVar(&flags.Keep, "keep", 0, "number of backups to keep (default from [backup] keep)")
	prune.Flags().StringVar(&flags.Server, "server", "", "only prune this server's backups")

	cmd.AddCommand(create, list, restore, prune)
	return cmd
}

func createTunnelCommand(g *GlobalFlags) *cobra.Command {
	flags := &TunnelFlags{}
	cmd := &cobra.Command{
		Use:   "tunnel",
		Short: "Tunnel address tools",
	}
	detect := &cobra.Command{
		Use:   "detect",
		Short: "Find the playit.gg address in a log file or the agent directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadLocal(g)
			if err != nil {
				return err
			}
			tc := cfg.Playit.TunnelConfig()
			if flags.Dir != "" {
				tc.Dir = flags.Dir
			}
			var scrollback []string
			if flags.Logs != "" {
				if scrollback, err = readLines(flags.Logs); err != nil {
					return err
				}
			}
			addr, src, ok := tunnel.NewDetector(tc, log).Detect(scrollback)
			if !ok {
				return fmt.Errorf("no tunnel address found in %s", filepath.Clean(tc.Dir))
			}
			printJSON(cmd.OutOrStdout(), map[string]string{"address": addr, "source": string(src)})
			return nil
		},
	}
	detect.Flags().StringVar(&flags.Dir, "dir", "", "agent directory to search (default from [playit] dir)")
	detect.Flags().StringVar(&flags.Logs, "logs", "", "agent log file to search first")
	cmd.AddCommand(detect)
	return cmd
}

func createCrashCheckCommand() *cobra.Command {
	flags := &CrashFlags{}
	cmd := &cobra.Command{
		Use:   "crash-check",
		Short: "Check the tail of a server log for crash signatures",
		Long: `Scan the last 20 lines of a log file for crash keywords such as
Exception, OutOfMemoryError or "Server crashed". Exits non-zero on a hit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lines, err := readLines(flags.File)
			if err != nil {
				return err
			}
			if logbuf.DetectCrash(lines) {
				printLines(cmd.OutOrStdout(), tail(lines, logbuf.CrashWindow))
				return fmt.Errorf("%w in %s", errCrashFound, flags.File)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no crash detected")
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.File, "file", "", "log file to check (required)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
