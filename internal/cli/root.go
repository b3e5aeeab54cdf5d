// Package cli implements the fieldkit command-line interface.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/internal/paths"
	"github.com/mesh-intelligence/fieldkit/pkg/fieldkit"
	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// exitError carries an explicit exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// sysError marks err as a failure of the environment (storage, config, I/O)
// rather than of the user's input.
func sysError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: exitSysError, err: err}
}

// exitCode maps an error returned by a command to a process exit code.
// A remote 4xx is the user's fault; transport failures and 5xx are system
// errors. Validation errors and cobra's own argument and flag errors are
// user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var re *types.RemoteError
	if errors.As(err, &re) && types.KindOf(err) == types.KindRemote {
		if re.StatusCode >= 400 && re.StatusCode < 500 {
			return exitUserError
		}
		return exitSysError
	}
	return exitUserError
}

// rootFlags holds global flag values.
type rootFlags struct {
	configDir string
	dataDir   string
	envFile   string
	apiURL    string
	logLevel  string
	jsonMode  bool
}

// app is the state shared by all subcommands of one invocation.
type app struct {
	flags    rootFlags
	settings Settings
	log      *zap.Logger
}

// NewRootCmd creates the "fieldkit" command with global flags and all
// subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{log: zap.NewNop()}

	root := &cobra.Command{
		Use:     "fieldkit",
		Short:   "Dynamic form fields with per-subject values",
		Long:    "fieldkit manages field definitions and the values subject records hold\nfor them, against a remote fieldkit API or a local reference server.",
		Version: fieldkit.Version,
		// Errors are printed once by Execute.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.log.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $XDG_CONFIG_HOME/fieldkit)")
	pf.StringVar(&a.flags.dataDir, "data-dir", "", "data directory for the sqlite backend (default: $(CWD)/"+paths.DefaultDataDirName+")")
	pf.StringVar(&a.flags.envFile, "env-file", ".env", "dotenv file loaded before configuration")
	pf.StringVar(&a.flags.apiURL, "api-url", "", "base URL of the fieldkit API")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.BoolVar(&a.flags.jsonMode, "json", false, "output in JSON format")

	root.AddCommand(
		newVersionCmd(),
		newInitCmd(a),
		newServeCmd(a),
		newFieldCmd(a),
		newOptionCmd(a),
		newValuesCmd(a),
		newExportCmd(a),
		newImportCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	s, err := loadSettings(a.flags)
	if err != nil {
		return sysError(err)
	}
	level := s.LogLevel
	if level == "" {
		level = defaultLogLevel
		if l, ok := cmd.Annotations[annotationLogLevel]; ok {
			level = l
		}
	}
	log, err := newLogger(level, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.settings = s
	a.log = log
	a.log.Debug("configuration loaded",
		zap.String("config_dir", s.ConfigDir),
		zap.String("backend", s.Backend),
		zap.String("api_url", s.APIURL))
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
	}
	return exitCode(err)
}
