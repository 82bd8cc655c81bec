// Command qauth runs quantum identity authentication sessions, either
// in-process against the simulator or across a remote backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	pkgversion "github.com/pzverkov/quantum-auth/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var obs observability

	root := &cobra.Command{
		Use:   "qauth",
		Short: "Quantum identity authentication over a simulated quantum network",
		Long: `qauth runs the Li-Barnum, Ping-Pong, and Zawadzki quantum identity
authentication protocols. Sessions run in-process against the simulator
(demo) or across a backend reached over a post-quantum secured link
(serve, prove, verify).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return obs.setup()
		},
	}

	root.PersistentFlags().StringVar(&obs.logLevel, "log-level", "warn", "log level: debug, info, warn, error, silent")
	root.PersistentFlags().StringVar(&obs.logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().BoolVar(&obs.logColor, "log-color", false, "color the level column of text logs")
	root.PersistentFlags().StringVar(&obs.tracing, "tracing", "none", "tracing mode: none, simple, otel (requires -tags otel)")

	root.AddCommand(
		serveCmd(&obs),
		proveCmd(&obs),
		verifyCmd(&obs),
		demoCmd(&obs),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "qauth version %s (wire %s)\n", getVersion(), pkgversion.Wire())
			if buildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", buildTime)
			}
			if gitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			}
		},
	}
}
