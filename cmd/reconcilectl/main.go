package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/reconciler/internal/version"
)

const (
	envKafkaBrokers = "RECONCILER_KAFKA_BROKERS"
	envPostgresDSN  = "RECONCILER_POSTGRES_DSN"
	defaultClientID = "reconcilectl"
)

// rootOptions хранит общие флаги подкоманд.
type rootOptions struct {
	brokers  string
	dsn      string
	clientID string
	verbose  bool
}

func (o *rootOptions) kafkaBrokers() []string {
	raw := o.brokers
	if strings.TrimSpace(raw) == "" {
		raw = os.Getenv(envKafkaBrokers)
	}
	return parseBrokers(raw)
}

func (o *rootOptions) postgresDSN() string {
	if dsn := strings.TrimSpace(o.dsn); dsn != "" {
		return dsn
	}
	return strings.TrimSpace(os.Getenv(envPostgresDSN))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fail("%v", err)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "reconcilectl",
		Short:   "Operator tool for the payment reconciler",
		Version: version.String(),
		PersistentPreRun: func(*cobra.Command, []string) {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
			log.SetLevel(log.InfoLevel)
			if opts.verbose {
				log.SetLevel(log.DebugLevel)
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.brokers, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	rootCmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	rootCmd.PersistentFlags().StringVar(&opts.clientID, "client-id", defaultClientID, "Kafka client id")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(reapCmd(opts))
	rootCmd.AddCommand(submitCmd(opts))
	rootCmd.AddCommand(replayDLQCmd(opts))

	return rootCmd
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
