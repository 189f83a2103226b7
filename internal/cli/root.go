// Package cli implements querycachectl, a maintenance tool for the SQLite-backed
// durable tier of the query cache.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/goliatone/go-query-cache/pkg/di"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type app struct {
	v          *viper.Viper
	configFile string
	settings   Settings
	logger     *zap.Logger
	stdout     io.Writer
	stderr     io.Writer
	clock      clockwork.Clock
}

// NewRootCommand returns the querycachectl command tree bound to the process streams.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithIO(os.Stdout, os.Stderr)
}

// NewRootCommandWithIO returns the command tree writing to out and errOut.
func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(out, errOut, clockwork.NewRealClock())
}

// newRootCommand uses clock to age entries in inspect output.
func newRootCommand(out, errOut io.Writer, clock clockwork.Clock) *cobra.Command {
	a := &app{
		v:      viper.New(),
		stdout: out,
		stderr: errOut,
		clock:  clock,
	}

	cmd := &cobra.Command{
		Use:   "querycachectl",
		Short: "Inspect and maintain a persisted query cache",
		Long: `querycachectl operates on the durable tier of a query cache stored in SQLite.

Configuration is read from flags, QUERYCACHE_* environment variables and an
optional querycache.yaml in the working directory.

Examples:
  querycachectl keys --pattern "FROM expenses"
  querycachectl inspect "SELECT * FROM categories:[]"
  querycachectl invalidate "FROM expenses"
  querycachectl clear`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, flagConfigFile, "", "config file (default ./querycache.yaml)")
	flags.String("database", defaultDB, "SQLite database holding the cache")
	flags.String("key-prefix", "", "prefix of cache keys in the durable store")
	flags.String("log-level", defaultLogLvl, "log level (debug, info, warn, error)")
	// the flag names are fixed above, so binding cannot fail
	_ = bindFlags(a.v, flags)

	cmd.AddCommand(
		newKeysCmd(a),
		newInspectCmd(a),
		newInvalidateCmd(a),
		newClearCmd(a),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	settings, err := loadSettings(a.v, a.configFile)
	if err != nil {
		return err
	}
	logger, err := settings.newLogger(zapcore.AddSync(a.stderr))
	if err != nil {
		return err
	}
	a.settings = settings
	a.logger = logger
	return nil
}

// open builds a container over the configured database. Callers must Close it.
func (a *app) open(ctx context.Context) (*di.Container, error) {
	a.logger.Debug("opening cache database", zap.String("database", a.settings.Database))
	return di.OpenSQLite(ctx, a.settings.Database,
		di.WithConfig(a.settings.cacheConfig()),
		di.WithLogger(a.logger),
	)
}
