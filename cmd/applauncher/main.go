package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/applauncher/internal/logger"
	"github.com/loykin/applauncher/pkg/client"
)

func main() {
	root := buildRoot(os.Stdout, os.Stderr)
	if err := execute(root); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute runs root and turns a panic anywhere below it into an error line.
func execute(root *cobra.Command) (err error) {
	defer func() {
		if v := recover(); v != nil {
			logger.LogPanic("command "+root.Name(), v)
			err = fmt.Errorf("internal error: %v", v)
		}
	}()
	return root.Execute()
}

// GlobalFlags holds the persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// buildRoot creates the root command with every subcommand attached.
// Command output goes to out, warnings to errOut.
func buildRoot(out, errOut io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)

	launcherCommand := &command{flags: globalFlags, out: out, errOut: errOut}

	root.AddCommand(
		createServeCommand(globalFlags),
		createListCommand(launcherCommand),
		createStatusCommand(launcherCommand),
		createLaunchCommand(launcherCommand),
		createStopCommand(launcherCommand),
		createStopAllCommand(launcherCommand),
		createProfileCommand(launcherCommand),
		createAppCommand(launcherCommand),
		createEventsCommand(launcherCommand),
		createHistoryCommand(launcherCommand),
		createResourcesCommand(launcherCommand),
	)
	return root
}

// createRootCommand creates the root command with its persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "applauncher",
		Short: "Launch and stop groups of applications as one unit",
		Long: `applauncher keeps named profiles of applications and starts or stops
every application of a profile with one toggle. The daemon owns the children;
the other subcommands talk to it over its HTTP API.

Examples:
  applauncher serve --config=applauncher.toml
  applauncher profile add Dev
  applauncher app add Dev --path=/usr/bin/code --args="--new-window"
  applauncher launch Dev            # toggle: starts Dev, or stops it when running
  applauncher status --api-url=http://127.0.0.1:8765/api`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to config file (TOML, YAML or JSON)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:8765/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [config]",
		Short: "Start the applauncher daemon",
		Long: `Start the daemon that owns the profiles and their children and serves
the HTTP API. Without a config file the defaults and APPLAUNCHER_* environment
variables apply.

Examples:
  applauncher serve
  applauncher serve applauncher.toml
  applauncher serve --daemonize --pidfile=/tmp/applauncher.pid --logfile=/tmp/applauncher.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := globalFlags.ConfigPath
			if len(args) > 0 {
				configPath = args[0]
			}
			return runServeCommand(configPath, serveFlags)
		},
	}

	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

// createListCommand creates the list subcommand
func createListCommand(launcherCommand *command) *cobra.Command {
	listFlags := &ListFlags{}
	cmd := &cobra.Command{
		Use:   "list [profile]",
		Short: "Show profiles and their applications",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			if listFlags.Detect && name == "" {
				return fmt.Errorf("--detect needs a profile name")
			}
			return launcherCommand.List(cmd.Context(), name, listFlags.Detect)
		},
	}
	cmd.Flags().BoolVar(&listFlags.Detect, "detect", false, "probe each application on the host by PID or image name")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(launcherCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show running profiles and the launching indicator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return launcherCommand.Status(cmd.Context())
		},
	}
}

// createLaunchCommand creates the launch subcommand
func createLaunchCommand(launcherCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "launch <profile>",
		Short: "Toggle a profile: start it, or stop it when it is running",
		Long: `Toggle a profile. A stopped profile has every application started;
applications already running on this machine are skipped. A running profile
is stopped instead.

Examples:
  applauncher launch Dev`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return launcherCommand.Launch(cmd.Context(), args[0])
		},
	}
}

// createStopCommand creates the stop subcommand
func createStopCommand(launcherCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <profile>",
		Short: "Stop every application of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return launcherCommand.Stop(cmd.Context(), args[0])
		},
	}
}

// createStopAllCommand creates the stop-all subcommand
func createStopAllCommand(launcherCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every running profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return launcherCommand.StopAll(cmd.Context())
		},
	}
}

// createProfileCommand creates the profile command group
func createProfileCommand(launcherCommand *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Add, rename or remove profiles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name>",
			Short: "Add an empty profile",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return launcherCommand.ProfileAdd(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "rename <name> <new-name>",
			Short: "Rename a profile",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return launcherCommand.ProfileRename(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove a profile, stopping it first when it is running",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return launcherCommand.ProfileRemove(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

// createAppCommand creates the app command group
func createAppCommand(launcherCommand *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Edit the applications of a profile",
	}
	cmd.AddCommand(
		createAppAddCommand(launcherCommand),
		createAppSetCommand(launcherCommand),
		&cobra.Command{
			Use:   "remove <profile> <index>",
			Short: "Remove an application, terminating it when it is running",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				i, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				return launcherCommand.AppRemove(cmd.Context(), args[0], i)
			},
		},
		&cobra.Command{
			Use:   "move <profile> <from> <to>",
			Short: "Move an application to another position",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				from, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				to, err := parseIndex(args[2])
				if err != nil {
					return err
				}
				return launcherCommand.AppMove(cmd.Context(), args[0], from, to)
			},
		},
		&cobra.Command{
			Use:   "stop <profile> <index>",
			Short: "Stop one application of a profile",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				i, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				return launcherCommand.AppStop(cmd.Context(), args[0], i)
			},
		},
	)
	return cmd
}

func createAppAddCommand(launcherCommand *command) *cobra.Command {
	appFlags := &AppFlags{}
	cmd := &cobra.Command{
		Use:   "add <profile>",
		Short: "Add an application to a profile",
		Long: `Add an application. Without --name the entry is named after the
executable file.

Examples:
  applauncher app add Dev --path=/usr/bin/code --args="--new-window ~/src"
  applauncher app add Dev --path=/opt/server/run --name=Server`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return launcherCommand.AppAdd(cmd.Context(), args[0], *appFlags)
		},
	}
	cmd.Flags().StringVar(&appFlags.Name, "name", "", "display name")
	cmd.Flags().StringVar(&appFlags.Path, "path", "", "absolute path of the executable (required)")
	cmd.Flags().StringVar(&appFlags.Arguments, "args", "", "command-line arguments")
	if err := cmd.MarkFlagRequired("path"); err != nil {
		panic(err) // This should never happen during setup
	}
	return cmd
}

func createAppSetCommand(launcherCommand *command) *cobra.Command {
	appFlags := &AppFlags{}
	cmd := &cobra.Command{
		Use:   "set <profile> <index>",
		Short: "Change the name, path or arguments of an application",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			var u client.AppUpdate
			if cmd.Flag("name").Changed {
				u.Name = &appFlags.Name
			}
			if cmd.Flag("path").Changed {
				u.Path = &appFlags.Path
			}
			if cmd.Flag("args").Changed {
				u.Arguments = &appFlags.Arguments
			}
			return launcherCommand.AppSet(cmd.Context(), args[0], i, u)
		},
	}
	cmd.Flags().StringVar(&appFlags.Name, "name", "", "display name")
	cmd.Flags().StringVar(&appFlags.Path, "path", "", "absolute path of the executable")
	cmd.Flags().StringVar(&appFlags.Arguments, "args", "", "command-line arguments")
	return cmd
}

// createEventsCommand creates the events subcommand
func createEventsCommand(launcherCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow engine state changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return launcherCommand.Events(ctx)
		},
	}
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(launcherCommand *command) *cobra.Command {
	historyFlags := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent launch, exit and kill events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return launcherCommand.History(cmd.Context(), historyFlags.Limit)
		},
	}
	cmd.Flags().IntVar(&historyFlags.Limit, "limit", 50, "number of events")
	return cmd
}

// createResourcesCommand creates the resources subcommand
func createResourcesCommand(launcherCommand *command) *cobra.Command {
	return &cobra.Command{
		Use:   "resources",
		Short: "Show CPU and memory of running applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return launcherCommand.Resources(cmd.Context())
		},
	}
}
