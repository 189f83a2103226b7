package txn

// DefaultIDColumn is the primary key column used by BatchUpdate and BatchDelete.
const DefaultIDColumn = "id"

type emission struct {
	event string
	args  []any
}

type runConfig struct {
	emits    []emission
	idColumn string
}

// RunOption configures a single Run or batch call.
type RunOption func(*runConfig)

// Emit publishes event with args on the runner's bus after a successful commit.
func Emit(event string, args ...any) RunOption {
	return func(c *runConfig) {
		c.emits = append(c.emits, emission{event: event, args: args})
	}
}

// WithIDColumn overrides the key column of BatchUpdate and BatchDelete.
func WithIDColumn(column string) RunOption {
	return func(c *runConfig) {
		c.idColumn = column
	}
}

func newRunConfig(opts []RunOption) runConfig {
	cfg := runConfig{idColumn: DefaultIDColumn}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
