// Package cli provides the command-line interface for rove.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rovetools/rove/internal/config"
	"github.com/rovetools/rove/internal/logging"
	"github.com/rovetools/rove/internal/session"
	"github.com/rovetools/rove/internal/version"
)

var (
	// Global flags
	cfgFile     string
	host        string
	port        int
	user        string
	keyPath     string
	certPath    string
	verbose     bool
	concurrency int
	showHidden  bool

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rove",
		Short: "Interactive SFTP browser and downloader",
		Long: `rove ` + version.Version + ` - Built: ` + version.BuildTime + `
Browse a remote host over SFTP, download files and trees with live
progress, and edit remote files in your local editor.

Authentication uses --key (optionally with an OpenSSH certificate via
--cert), falling back to a running ssh-agent and the default key
locations under ~/.ssh.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefault()
			if verbose {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				logging.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "H", "", "Remote host to connect to")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", session.DefaultPort, "SSH port")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "u", "", "Remote user (default \"root\")")
	rootCmd.PersistentFlags().StringVarP(&keyPath, "key", "i", "", "Private key file")
	rootCmd.PersistentFlags().StringVar(&certPath, "cert", "", "OpenSSH certificate file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	rootCmd.PersistentFlags().IntVar(&concurrency, "concurrency", 0, "Parallel transfers per download (0 = config default)")
	rootCmd.PersistentFlags().BoolVarP(&showHidden, "hidden", "a", false, "Show dot-files by default")

	rootCmd.Version = version.Version + " (" + version.BuildTime + ")"

	return rootCmd
}

// Execute runs the CLI.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nreceived %v, cancelling...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)

	return err
}

// AddCommands adds all subcommands to the root command.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newBrowseCmd())
	rootCmd.AddCommand(newGetCmd())
}

// GetLogger returns the global CLI logger.
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return logger
}

// GetContext returns the global CLI context, cancelled on Ctrl+C.
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// loadConfig merges the config file with command-line overrides.
func loadConfig() (config.Config, error) {
	path := cfgFile
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return config.Default(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	if showHidden {
		cfg.ShowHidden = true
	}
	cfg.Normalize()
	return cfg, nil
}

// dial opens the session described by the connection flags.
func dial() (*session.Session, error) {
	if host == "" {
		return nil, fmt.Errorf("--host is required")
	}
	return session.Dial(session.Config{
		Host:     host,
		Port:     port,
		User:     user,
		KeyPath:  keyPath,
		CertPath: certPath,
	})
}
