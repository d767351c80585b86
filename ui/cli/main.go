// Copyright (c) 2026 Doorkeeper Team
// Doorkeeper - fingerprint credential synchronization
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the root command, configuration loading and the shared
// flags. The subcommands live in commands.go.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/toeirei/doorkeeper/buildvars"
	"github.com/toeirei/doorkeeper/client"
	"github.com/toeirei/doorkeeper/internal/config"
	"github.com/toeirei/doorkeeper/internal/db"
	"github.com/toeirei/doorkeeper/internal/i18n"
	"github.com/toeirei/doorkeeper/internal/logging"
	"golang.org/x/term"
)

const modulePath = "github.com/toeirei/doorkeeper"

var version = buildvars.VersionOrDefault("dev")   // this will be set by the linker
var gitCommit = buildvars.CommitOrDefault("dev") // set at build time with the short commit SHA
var buildDate = buildvars.Date                   // set at build time (RFC3339)

var cfgFile string
var verbose bool
var askPassword bool

var appConfig config.Config

// openClient builds the client the commands talk to. Tests replace it.
var openClient = func(ctx context.Context, cfg config.Config) (client.Client, error) {
	return client.New(ctx, cfg)
}

// readPassword reads a secret from the terminal without echo. Tests replace it.
var readPassword = func(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("--ask-password requires an interactive terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func setupDefaultServices(cmd *cobra.Command, args []string) error {
	optionalConfigPath, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}

	defaults := config.Defaults()
	appConfig, err = config.LoadConfig[config.Config](cmd, defaults, optionalConfigPath)
	// A missing file is expected on first run: persist the defaults so there
	// is something to edit.
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		if path, writeErr := config.WriteConfigFile(&appConfig, false); writeErr != nil {
			logging.Warnf("could not write default config file: %v", writeErr)
		} else {
			logging.Infof("wrote default config to %s", path)
		}
	} else if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	// Empty values in the file fall back to the built-in defaults.
	if appConfig.Database.Type == "" {
		appConfig.Database.Type = defaults["database.type"].(string)
	}
	if appConfig.Database.Dsn == "" {
		appConfig.Database.Dsn = defaults["database.dsn"].(string)
	}
	if appConfig.Language == "" {
		appConfig.Language = defaults["language"].(string)
	}

	i18n.Init(appConfig.Language)
	if err := logging.SetLevel(appConfig.Log.Level); err != nil {
		return err
	}
	if verbose {
		db.SetDebug(true)
		_ = logging.SetLevel("debug")
	}
	if err := appConfig.Validate(); err != nil {
		return errors.New(i18n.T("config.error_invalid", err))
	}

	if askPassword {
		pw, err := readPassword(i18n.T("cli.password_prompt"))
		if err != nil {
			return err
		}
		appConfig.Transport.Password = pw
	}
	return nil
}

// Execute runs the CLI entrypoint. The main packages call this function
// and handle process exit.
func Execute() error {
	return NewRootCmd().Execute()
}

func applyDefaultFlags(cmd *cobra.Command) {
	// Persistent so that every subcommand binds them when loading config.
	flags := cmd.PersistentFlags()
	if flags.Lookup("database.type") == nil {
		flags.String("database.type", "sqlite", "Database type (sqlite, mysql, postgres)")
	}
	if flags.Lookup("database.dsn") == nil {
		flags.String("database.dsn", "./doorkeeper.db", "Database connection string (DSN)")
	}
	if flags.Lookup("transport.type") == nil {
		flags.String("transport.type", "mqtt", "Device transport (mqtt, redis, memory)")
	}
	if flags.Lookup("transport.broker") == nil {
		flags.String("transport.broker", "tcp://localhost:1883", "MQTT broker URL")
	}
}

func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	// Only proceed if the user has explicitly set the --config flag.
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

// withClient opens a client for the duration of fn.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c client.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := openClient(ctx, appConfig)
	if err != nil {
		if errors.Is(err, client.ErrTransport) {
			return localize(err)
		}
		return &localizedError{msg: i18n.T("config.error_init_db", err), err: err}
	}
	defer func() {
		if cerr := c.Close(ctx); cerr != nil {
			logging.Warnf("closing client: %v", cerr)
		}
	}()
	return localize(fn(ctx, c))
}

func printf(w io.Writer, id string, args ...any) {
	fmt.Fprintln(w, i18n.T(id, args...))
}

// NewRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well as
// fresh instances for isolated testing.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doorkeeper",
		Short: "Doorkeeper keeps a fingerprint sensor and its credential database in sync.",
		Long: `Doorkeeper is the gateway between a fingerprint door sensor and the
credential database. It enrolls and revokes templates on the sensor over
MQTT (or Redis), keeps the database authoritative for who may enter and
when, expires credentials on a schedule and records every access event.

Run 'doorkeeper serve' to start the gateway.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupDefaultServices,
	}

	v, c, d := resolveBuildVersion(nil)
	compositeVersion := v
	if c != "" && c != "dev" {
		compositeVersion = compositeVersion + " (" + c + ")"
	}
	if d != "" {
		compositeVersion = compositeVersion + " built: " + d
	}
	cmd.Version = compositeVersion

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output (debug logs, SQL timings)")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file")
	cmd.PersistentFlags().BoolVar(&askPassword, "ask-password", false, "Prompt for the broker password instead of reading it from the config")
	cmd.PersistentFlags().String("language", "en", `CLI language ("en", "vi")`)
	cmd.PersistentFlags().String("log.level", "info", "Log level (debug, info, warn, error)")
	applyDefaultFlags(cmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		// The version needs neither configuration nor a database.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}

	cmd.AddCommand(
		newServeCmd(),
		newEnrollCmd(),
		newRegisterCmd(),
		newRevokeCmd(),
		newEnableCmd(),
		newDisableCmd(),
		newListCmd(),
		newScanCmd(),
		newCancelScanCmd(),
		newUnlockCmd(),
		newSweepCmd(),
		newReconcileCmd(),
		newExportCmd(),
		newImportCmd(),
		newConfigCmd(),
		newDBMaintainCmd(),
		versionCmd,
	)
	return cmd
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If `info` is nil, it reads build info from
// the runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := version
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if infoLocal, found := debug.ReadBuildInfo(); found {
			info = infoLocal
		}
	}

	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		// Some build paths only record our module as a dependency.
		if (resolvedVersion == "dev" || resolvedVersion == "(devel)") && info.Deps != nil {
			for _, dep := range info.Deps {
				if dep.Path == modulePath && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	// As a last resort show the commit passed via ldflags.
	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}
	return resolvedVersion, strings.TrimSpace(resolvedCommit), resolvedDate
}
