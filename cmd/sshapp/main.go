package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT/SIGTERM so that waits end promptly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func buildRoot(c command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(c, globalFlags),
		createStartCommand(c, globalFlags),
		createStopCommand(c, globalFlags),
		createStatusCommand(c, globalFlags),
		createResultCommand(c, globalFlags),
		createCleanCommand(c, globalFlags),
		createServeCommand(globalFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sshapp",
		Short: "Launch and follow applications on remote nodes over SSH",
		Long: `sshapp starts an application on every node of a service, derives its
lifecycle from the markers it prints and stops or cleans it up again.

Examples:
  sshapp run --config=sshapp.toml --name=smoke --result=answer
  sshapp status --config=sshapp.toml
  sshapp serve --config=sshapp.toml
  sshapp status --api-url=http://127.0.0.1:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api); empty acts on the nodes directly")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 5*time.Minute, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate trusted for an https daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
}

func requireFlag(cmd *cobra.Command, name string) {
	if err := cmd.MarkFlagRequired(name); err != nil {
		panic(err) // This should never happen during setup
	}
}

func createRunCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a service and wait until it finished",
		Long: `Start a service on all of its nodes, wait for the initialized marker,
then for every node to exit and print the finished marker. Requested results
are extracted from the output afterwards.

Examples:
  sshapp run --name=smoke
  sshapp run --name=smoke --result=answer --result=elapsed --timeout=10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			ctx, cancel := signalContext()
			defer cancel()
			return c.Run(ctx, *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "service name (required)")
	cmd.Flags().StringArrayVar(&f.Results, "result", nil, "result to extract, repeatable")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "wait for the application to finish (default: service stop_timeout)")
	requireFlag(cmd, "name")
	return cmd
}

func createStartCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a service",
		Long: `Start a service and wait until every node printed the initialized marker.

Examples:
  sshapp start --name=server
  sshapp start --name=server --no-wait`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			ctx, cancel := signalContext()
			defer cancel()
			return c.Start(ctx, *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "service name (required)")
	cmd.Flags().BoolVar(&f.NoWait, "no-wait", false, "return right after launching")
	requireFlag(cmd, "name")
	return cmd
}

func createStopCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a service",
		Long: `Stop a service. A graceful stop sends SIGTERM and waits for the nodes to
exit and print the finished marker; --kill sends SIGKILL and returns at once.

Examples:
  sshapp stop --name=server
  sshapp stop --name='ignite-*' --kill
  sshapp stop --name=server --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			ctx, cancel := signalContext()
			defer cancel()
			return c.Stop(ctx, *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "service name or wildcard (required)")
	cmd.Flags().BoolVar(&f.Kill, "kill", false, "send SIGKILL and do not wait")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 0, "graceful wait (default: service stop_timeout)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name")
	return cmd
}

func createStatusCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service state",
		Long: `Show the lifecycle state of services as derived from their output.

Examples:
  sshapp status                     # all services
  sshapp status --name=server
  sshapp status --api-url=http://remote:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.Status(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "service name or wildcard (optional)")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createResultCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &ResultFlags{}
	cmd := &cobra.Command{
		Use:   "result",
		Short: "Print a result the application reported",
		Long: `Print the payload of "<result>-> payload <-" lines. Without --all exactly
one line per node is required.

Examples:
  sshapp result --name=smoke --result=answer
  sshapp result --name=smoke --result=latency --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return c.Result(cmd.Context(), *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "service name (required)")
	cmd.Flags().StringVar(&f.Result, "result", "", "result name (required)")
	cmd.Flags().BoolVar(&f.All, "all", false, "print every occurrence")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name")
	requireFlag(cmd, "result")
	return cmd
}

func createCleanCommand(c command, g *GlobalFlags) *cobra.Command {
	f := &CleanFlags{}
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Kill leftovers and remove persistent state",
		Long: `Force-kill the application on every node and remove its persistent root.

Examples:
  sshapp clean --name=server
  sshapp clean --name='*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			ctx, cancel := signalContext()
			defer cancel()
			return c.Clean(ctx, *f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "service name or wildcard (required)")
	addAPIFlags(cmd, &f.APIFlags)
	requireFlag(cmd, "name")
	return cmd
}

func createServeCommand(g *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the status API daemon",
		Long: `Serve the status API (and /metrics) for the services of a config file.

Examples:
  sshapp serve --config=sshapp.toml
  sshapp serve sshapp.toml --daemonize --pidfile=/run/sshapp.pid --logfile=/var/log/sshapp.out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = pickConfig(g.ConfigPath, args)
			return runServe(*f)
		},
	}
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&f.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "redirect daemon output to file")
	cmd.Flags().BoolVar(&f.NonBlocking, "non-blocking", false, "return once the servers are listening")
	_ = cmd.Flags().MarkHidden("non-blocking")
	return cmd
}
