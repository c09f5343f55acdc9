/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsoft/lldbdap/internal/dap"
	"github.com/microsoft/lldbdap/internal/lldb"
	"github.com/microsoft/lldbdap/pkg/logger"
	"github.com/microsoft/lldbdap/pkg/osutil"
)

const (
	// Overrides the default reply idle timeout, as a Go duration (e.g. "500ms").
	LLDBDAP_IDLE_TIMEOUT = "LLDBDAP_IDLE_TIMEOUT"
)

type rootOptions struct {
	port        uint16
	toolName    string
	idleTimeout time.Duration
	prompt      string
}

func NewRootCmd(log *logger.Logger) (*cobra.Command, error) {
	opts := rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "lldbdap",
		Short: "Debug adapter that drives the LLDB command-line debugger",
		Long: `lldbdap is a Debug Adapter Protocol server for LLDB.

	An editor starts lldbdap and talks to it over standard input and output
	(or over TCP, see --port). lldbdap runs the debugger as a child process
	and translates debug adapter requests into debugger commands.`,
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAdapter(cmd, log, opts)
		},
	}

	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	rootCmd.Flags().Uint16VarP(&opts.port, "port", "p", 0, "If present, serves the debug adapter protocol on the given TCP port of the loopback interface instead of standard input and output.")
	rootCmd.Flags().StringVar(&opts.toolName, "tool", lldb.DefaultToolName, "Name of the debugger executable, looked up in the directories listed in the PATH environment variable.")
	rootCmd.Flags().DurationVar(&opts.idleTimeout, "idle-timeout", osutil.EnvVarDurationValWithDefault(LLDBDAP_IDLE_TIMEOUT, lldb.DefaultIdleTimeout), "How long the debugger must stay quiet before its output is considered a complete reply. Can also be set with the "+LLDBDAP_IDLE_TIMEOUT+" environment variable.")
	rootCmd.Flags().StringVar(&opts.prompt, "prompt", lldb.DefaultPrompt, "Debugger prompt that marks the end of a reply. An empty value disables prompt detection.")
	log.AddLevelFlag(rootCmd.PersistentFlags())

	var err error
	var cmd *cobra.Command

	if cmd, err = NewVersionCommand(log.Logger); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("could not set up 'version' command: %w", err)
	}

	if cmd, err = NewManifestCommand(log.Logger); cmd != nil {
		rootCmd.AddCommand(cmd)
	} else {
		return nil, fmt.Errorf("could not set up 'manifest' command: %w", err)
	}

	return rootCmd, nil
}

func runAdapter(cmd *cobra.Command, log *logger.Logger, opts rootOptions) error {
	LogVersion(log.Logger, "Debug adapter starting...")

	if opts.idleTimeout <= 0 {
		return fmt.Errorf("the idle timeout must be positive, got %s", opts.idleTimeout)
	}

	tool := lldb.LocateToolFromEnv(opts.toolName)
	if tool.Found() {
		log.V(1).Info("Debugger located", "tool", tool.Name, "path", tool.ResolvedPath)
	} else {
		// Not fatal for the adapter: every launch or attach request will fail and say why.
		log.Info("Debugger executable not found in PATH", "tool", tool.Name)
	}

	config := dap.ServerConfig{
		Tool:        tool,
		IdleTimeout: opts.idleTimeout,
		Prompt:      opts.prompt,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serveErr error
	if opts.port != 0 {
		serveErr = serveTCP(ctx, fmt.Sprintf("127.0.0.1:%d", opts.port), config, log.Logger)
	} else {
		serveErr = serveStream(ctx, os.Stdin, os.Stdout, config, log.Logger)
	}

	log.V(1).Info("Debug adapter stopped", "uptime", logger.Uptime().String())
	return serveErr
}
