package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gamevault/internal/app"
	"gamevault/internal/config"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// operation identifies the CLI command being run (e.g. "Backup", "Doctor").
func newApp(ctx context.Context, operation string) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts on the terminal without echo.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:   "gamevault",
	Short: "Game launcher persistence layer",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.HomeDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Provider: %s (%s)\n", cfg.Provider.Type, cfg.Provider.Root)
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Namespace:  %s\n", cfg.Namespace)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Provider:   %s (%s)\n", cfg.Provider.Type, cfg.Provider.Name)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Cache TTL:  %ds\n", cfg.Cache.TTLSeconds)
		fmt.Printf("Sync:       %s\n", cfg.Sync.Type)
		return nil
	},
}

// doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check storage health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Doctor")
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.HealthCheck(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Provider: %s\n", report.Provider)
		fmt.Printf("Status:   %s\n", report.Status)
		fmt.Printf("Items:    %d\n", report.ItemCount)
		fmt.Printf("Used:     %.1f%%\n", report.UsedPercent*100)
		for _, d := range report.Diagnostics {
			fmt.Printf("  - %s\n", d)
		}
		return nil
	},
}

// info command
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "View storage usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Info")
		if err != nil {
			return err
		}
		defer a.Close()

		info, err := a.Info(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Items:     %d\n", info.ItemCount)
		fmt.Printf("Used:      %d bytes\n", info.UsedBytes)
		fmt.Printf("Capacity:  %d bytes\n", info.TotalBytes)
		fmt.Printf("Available: %d bytes\n", info.AvailableBytes)
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export a backup file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		protect, _ := cmd.Flags().GetBool("protect")

		ctx := cmd.Context()
		a, err := newApp(ctx, "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		if out == "" {
			out = fmt.Sprintf("gamevault-%s.backup.json", time.Now().UTC().Format("20060102T150405Z"))
		}
		absOut, err := filepath.Abs(out)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		passphrase := ""
		if protect {
			passphrase, err = readPassphrase("Backup passphrase: ")
			if err != nil {
				return err
			}
			confirm, err := readPassphrase("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if passphrase != confirm {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if err := a.BackupToFile(ctx, absOut, passphrase); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Backup written to %s\n", absOut)
		return nil
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore FILE",
	Short: "Restore from a backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		protected, _ := cmd.Flags().GetBool("protected")

		ctx := cmd.Context()
		a, err := newApp(ctx, "Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		passphrase := ""
		if protected {
			passphrase, err = readPassphrase("Backup passphrase: ")
			if err != nil {
				return err
			}
		}

		if err := a.RestoreFromFile(ctx, absPath, passphrase); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored from %s\n", absPath)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage data migrations",
}

var migrateRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "MigrateRun")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		if len(result.Applied) == 0 {
			fmt.Println("Already up to date.")
			return nil
		}
		fmt.Printf("Migrated v%d -> v%d (%d applied)\n",
			result.FromVersion, result.ToVersion, len(result.Applied))
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "View migration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "MigrateStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		meta, err := a.MigrationStatus(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Current version: %d\n", meta.CurrentVersion)
		fmt.Printf("Applied:         %v\n", meta.AppliedMigrations)
		if meta.LastMigrationDate != nil {
			fmt.Printf("Last run:        %s\n", meta.LastMigrationDate.Format("2006-01-02 15:04:05"))
		}
		for _, h := range meta.History {
			fmt.Printf("  v%d  %-9s  %s\n", h.Version, h.Action, h.Timestamp.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var migrateRollbackCmd = &cobra.Command{
	Use:   "rollback VERSION",
	Short: "Roll back to a schema version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q", args[0])
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "MigrateRollback")
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Rollback(ctx, target)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}

		fmt.Printf("Rolled back v%d -> v%d (%d reverted)\n",
			result.FromVersion, result.ToVersion, len(result.Applied))
		return nil
	},
}

var migrateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear migration state (destructive)",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("refusing to reset migration state without --yes")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, "MigrateReset")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ResetMigrations(ctx); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}

		fmt.Println("Migration state cleared.")
		return nil
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push a snapshot to the cloud mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Sync(ctx); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Println("Snapshot pushed.")
		return nil
	},
}

// provider command
var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Manage the storage provider",
}

var providerSwitchCmd = &cobra.Command{
	Use:   "switch TYPE",
	Short: "Switch to a different provider (memory, file, sqlite)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noMigrate, _ := cmd.Flags().GetBool("no-migrate")

		ctx := cmd.Context()
		a, err := newApp(ctx, "ProviderSwitch")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SwitchProvider(ctx, args[0], !noMigrate); err != nil {
			return fmt.Errorf("switch failed: %w", err)
		}

		fmt.Printf("Switched to provider %s\n", args[0])
		fmt.Println("Note: update your config file to make the switch permanent.")
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// migrate subcommands
	migrateCmd.AddCommand(migrateRunCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
	migrateCmd.AddCommand(migrateRollbackCmd)
	migrateCmd.AddCommand(migrateResetCmd)
	migrateResetCmd.Flags().Bool("yes", false, "Confirm the destructive reset")

	// provider subcommands
	providerCmd.AddCommand(providerSwitchCmd)
	providerSwitchCmd.Flags().Bool("no-migrate", false, "Skip copying data into the new provider")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(backupCmd)
	backupCmd.Flags().StringP("out", "o", "", "Backup file path")
	backupCmd.Flags().Bool("protect", false, "Passphrase-protect the backup file")
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Bool("protected", false, "Backup file is passphrase-protected")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(providerCmd)
}
