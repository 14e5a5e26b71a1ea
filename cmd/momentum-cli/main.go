// Command momentum-cli runs ETF momentum backtests and parameter sweeps
// against the local bar cache or a price CSV.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"etfmomentum/internal/config"
	"etfmomentum/internal/util"
)

var (
	cfgPath  string
	logLevel string

	// cfg is loaded before every command except version.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:               "momentum-cli",
	Short:             "ETF cross-sectional momentum backtester",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default $MOMENTUM_CONFIG or "+config.DefaultPath+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
}

func loadConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	util.SetDefault(util.NewLogger(c.Logging.Level, c.Logging.Format))
	cfg = c
	return nil
}

// splitList parses a comma-separated flag value into upper-case symbols.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contextWithTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), d)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
