package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wardensec/agent/internal/audit"
	"github.com/wardensec/agent/internal/config"
	"github.com/wardensec/agent/internal/privilege"
	"github.com/wardensec/agent/internal/silence"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "warden-notifier",
	Short: "Warden notification agent",
	Long:  `Warden Notifier - per-user notification agent for the Warden endpoint security daemon`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the notifier",
	Run: func(cmd *cobra.Command, args []string) {
		runNotifier()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Warden Notifier v%s\n", version)
	},
}

var silenceCmd = &cobra.Command{
	Use:   "silence",
	Short: "Inspect and manage silenced notifications",
}

var silenceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active silences",
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(cfg *config.Config, store *silence.Store) {
			entries, err := store.List()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Failed to list silences: %v\n", err)
				os.Exit(1)
			}
			if len(entries) == 0 {
				fmt.Println("No active silences.")
				return
			}
			for _, e := range entries {
				fmt.Printf("%s\texpires %s\n", e.Identity, e.ExpiresAt.Format(time.RFC3339))
			}
		})
	},
}

var silenceClearCmd = &cobra.Command{
	Use:   "clear [identity]",
	Short: "Remove the silence for one identity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withStore(func(cfg *config.Config, store *silence.Store) {
			if err := store.Clear(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to clear silence: %v\n", err)
				os.Exit(1)
			}
			auditSilenceClear(cfg, args[0], nil)
			fmt.Printf("Cleared silence for %s\n", args[0])
		})
	},
}

var silenceClearAllCmd = &cobra.Command{
	Use:   "clear-all",
	Short: "Remove all silences",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print("Remove ALL silences? Blocked activity will notify again. [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "y" {
			fmt.Println("Aborted.")
			return
		}
		withStore(func(cfg *config.Config, store *silence.Store) {
			if err := store.ClearAll(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to clear silences: %v\n", err)
				os.Exit(1)
			}
			auditSilenceClear(cfg, "", map[string]any{"scope": "all"})
			fmt.Println("All silences cleared.")
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")

	silenceCmd.AddCommand(silenceListCmd)
	silenceCmd.AddCommand(silenceClearCmd)
	silenceCmd.AddCommand(silenceClearAllCmd)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(silenceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withStore(fn func(cfg *config.Config, store *silence.Store)) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := silence.Open(cfg.GetDataDir())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open silence store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	fn(cfg, store)
}

// auditSilenceClear records manual silence removals in the audit trail.
// Best-effort; a missing trail does not block the operation.
func auditSilenceClear(cfg *config.Config, identity string, details map[string]any) {
	trail, err := audit.NewLogger(cfg.GetDataDir(), cfg.AuditMaxSizeMB, cfg.AuditMaxBackups)
	if err != nil {
		return
	}
	defer trail.Close()
	trail.Log(audit.EventSilenceClear, identity, details)
}

func runNotifier() {
	if privilege.IsRunningAsRoot() {
		fmt.Fprintln(os.Stderr, "warden-notifier is a per-user agent and must not run as root.")
		os.Exit(1)
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	app, err := newApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	app.start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(ctx)
}
