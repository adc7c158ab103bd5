package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/eventfold/examples/bankaccount/domain"
	"github.com/plaenen/eventfold/internal/config"
	"github.com/plaenen/eventfold/pkg/eventsourcing"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedClock(t *testing.T) {
	t.Helper()
	prev := eventsourcing.TimeFunc
	eventsourcing.TimeFunc = func() time.Time { return epoch }
	t.Cleanup(func() { eventsourcing.TimeFunc = prev })
}

// sequence returns an ID generator shared by every invocation in a test, so
// a file store never sees the same event ID twice.
func sequence() func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("evt-%d", n)
	}
}

func testConfig() config.Config {
	return config.Config{
		Store:    config.StoreMemory,
		DSN:      "bank.db",
		Format:   config.FormatText,
		LogLevel: slog.LevelError,
	}
}

type output struct {
	stdout string
	stderr string
}

func run(t *testing.T, cfg config.Config, ids func() string, args ...string) (output, error) {
	t.Helper()
	cmd := NewRootCommand(cfg, WithIDGenerator(ids))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return output{stdout: stdout.String(), stderr: stderr.String()}, err
}

func mustRun(t *testing.T, cfg config.Config, ids func() string, args ...string) string {
	t.Helper()
	out, err := run(t, cfg, ids, args...)
	require.NoError(t, err, "stderr: %s", out.stderr)
	return out.stdout
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func sqliteConfig(t *testing.T) config.Config {
	cfg := testConfig()
	cfg.Store = config.StoreSQLite
	cfg.DSN = filepath.Join(t.TempDir(), "bank.db")
	return cfg
}

func TestDemo(t *testing.T) {
	fixedClock(t)

	t.Run("text", func(t *testing.T) {
		out := mustRun(t, testConfig(), sequence(), "demo")
		golden(t).Assert(t, "demo_text", []byte(out))
	})

	t.Run("json", func(t *testing.T) {
		out := mustRun(t, testConfig(), sequence(), "demo", "--format", "json")
		golden(t).Assert(t, "demo_json", []byte(out))
	})

	t.Run("sqlite", func(t *testing.T) {
		out := mustRun(t, sqliteConfig(t), sequence(), "demo")
		golden(t).Assert(t, "demo_text", []byte(out))
	})

	t.Run("embedded nats", func(t *testing.T) {
		if testing.Short() {
			t.Skip("starts an embedded NATS server")
		}
		out := mustRun(t, testConfig(), sequence(), "demo", "--embedded-nats")
		golden(t).Assert(t, "demo_text", []byte(out))
	})
}

func TestDemo_Trace(t *testing.T) {
	fixedClock(t)

	out, err := run(t, testConfig(), sequence(), "demo", "--trace")
	require.NoError(t, err)
	golden(t).Assert(t, "demo_text", []byte(out.stdout))
	assert.Contains(t, out.stderr, `"Name": "command.open_account"`)
	assert.Contains(t, out.stderr, `"Name": "command.withdraw_money"`)
}

func TestSQLiteSession(t *testing.T) {
	fixedClock(t)
	cfg := sqliteConfig(t)
	ids := sequence()

	assert.Equal(t, "open_account 7 -> opened {\"id\":7,\"customer_id\":3}\n",
		mustRun(t, cfg, ids, "open", "7", "--customer", "3"))
	assert.Equal(t, "deposit_money 7 -> credited {\"id\":7,\"amount\":25}\n",
		mustRun(t, cfg, ids, "deposit", "7", "25.00"))
	assert.Equal(t, "withdraw_money 7 -> debited {\"id\":7,\"amount\":10}\n",
		mustRun(t, cfg, ids, "withdraw", "7", "10"))

	golden(t).Assert(t, "history_text", []byte(mustRun(t, cfg, ids, "history", "7")))
	golden(t).Assert(t, "history_json", []byte(mustRun(t, cfg, ids, "history", "7", "--format", "json")))
	golden(t).Assert(t, "balance_text", []byte(mustRun(t, cfg, ids, "balance")))

	t.Run("balance rebuild is repeatable", func(t *testing.T) {
		golden(t).Assert(t, "balance_json", []byte(mustRun(t, cfg, ids, "balance", "--format", "json")))
		golden(t).Assert(t, "balance_json", []byte(mustRun(t, cfg, ids, "balance", "--format", "json")))
	})

	t.Run("close after emptying", func(t *testing.T) {
		out, err := run(t, cfg, ids, "close", "7")
		require.NoError(t, err)
		assert.Equal(t, "close_account 7 -> closing_refused {\"id\":7,\"balance\":15}\n", out.stdout)

		mustRun(t, cfg, ids, "withdraw", "7", "15")
		assert.Equal(t, "close_account 7 -> closed {\"id\":7}\n", mustRun(t, cfg, ids, "close", "7"))

		_, err = run(t, cfg, ids, "deposit", "7", "1")
		require.ErrorIs(t, err, domain.ErrNotOpened)
		assert.Equal(t, ExitRejected, ExitCode(err))
	})
}

func TestBalance_EmptyStore(t *testing.T) {
	assert.Equal(t, "total 0\n", mustRun(t, testConfig(), sequence(), "balance"))
	assert.Equal(t, "{\"accounts\":[],\"total\":\"0\"}\n",
		mustRun(t, testConfig(), sequence(), "balance", "--format", "json"))
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		is   error
	}{
		{"deposit before open", []string{"deposit", "1", "5"}, ExitRejected, domain.ErrNotOpened},
		{"withdraw before open", []string{"withdraw", "1", "5"}, ExitRejected, domain.ErrNotOpened},
		{"fractional amount", []string{"deposit", "1", "4.5"}, ExitCommandError, nil},
		{"negative amount", []string{"deposit", "1", "-4"}, ExitCommandError, nil},
		{"bad account id", []string{"close", "abc"}, ExitCommandError, nil},
		{"project without nats", []string{"project"}, ExitCommandError, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, testConfig(), sequence(), tt.args...)
			require.Error(t, err)
			assert.Empty(t, out.stdout)
			assert.Equal(t, tt.code, ExitCode(err))
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestRootFlagsValidated(t *testing.T) {
	_, err := run(t, testConfig(), sequence(), "demo", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")

	_, err = run(t, testConfig(), sequence(), "demo", "--store", "postgres")
	assert.ErrorContains(t, err, "invalid store")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(testConfig())
	for _, name := range []string{"demo", "open", "deposit", "withdraw", "close", "history", "balance", "project"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlagDefaultsFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Store = config.StoreSQLite
	cfg.Format = config.FormatJSON
	cfg.NATSURL = "nats://example:4222"
	cmd := NewRootCommand(cfg)

	flags := cmd.PersistentFlags()
	assert.Equal(t, "sqlite", flags.Lookup("store").DefValue)
	assert.Equal(t, "json", flags.Lookup("format").DefValue)
	assert.Equal(t, "nats://example:4222", flags.Lookup("nats-url").DefValue)
	assert.Equal(t, "v", flags.Lookup("verbose").Shorthand)
	assert.Equal(t, "false", flags.Lookup("embedded-nats").DefValue)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr string
	}{
		{"49", 49, ""},
		{"49.00", 49, ""},
		{"0", 0, ""},
		{"18446744073709551615", 18446744073709551615, ""},
		{"18446744073709551616", 0, "out of range"},
		{"49.5", 0, "whole number"},
		{"-1", 0, "negative"},
		{"ten", 0, "amount"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseAmount(tt.in)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExitCode(t *testing.T) {
	rejected := &eventsourcing.CommandError{Err: domain.ErrNotOpened}
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitRejected, ExitCode(rejected))
	assert.Equal(t, ExitRejected, ExitCode(fmt.Errorf("wrapped: %w", rejected)))
	assert.Equal(t, ExitCommandError, ExitCode(WrapExitError(ExitCommandError, "bad", nil)))
	assert.Equal(t, ExitFailure, ExitCode(eventsourcing.ErrConcurrencyConflict))
}
