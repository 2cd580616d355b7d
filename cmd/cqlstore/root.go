package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adrianmcphee/cqlstore"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const version = "0.3.0"

// Flags that map onto the configuration document
var documentFlags = map[string]string{
	"hosts":           "backendconf.cassandra.hosts",
	"user":            "backendconf.cassandra.user",
	"password":        "backendconf.cassandra.password",
	"namespace":       "backendconf.cassandra.namespace",
	"connect-timeout": "backendconf.cassandra.connect_timeout",
	"timeout":         "backendconf.cassandra.timeout",
}

var (
	rootCmd = &cobra.Command{
		Use:   "cqlstore",
		Short: "Document and media store on Cassandra",
		Long: fmt.Sprintf(`cqlstore (v%s)

Stores JSON documents in named collections and binary media in a Cassandra
keyspace. Configuration comes from flags, CQLSTORE_* environment variables
(e.g. CQLSTORE_BACKENDCONF_CASSANDRA_HOSTS) or a YAML/JSON config file.`, version),
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of cqlstore",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "cqlstore v%s (%s)\n", version, cqlstore.Description)
		},
	}
)

func init() {
	rootCmd.AddCommand(versionCmd, serveCmd, getCmd, selectCmd, setCmd, delCmd, mediaCmd, exportCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (YAML or JSON with a backendconf.cassandra section)")
	flags.StringSlice("hosts", []string{cqlstore.DefaultHost}, "Cassandra contact points")
	flags.String("user", "", "Cassandra user (requires --password)")
	flags.String("password", "", "Cassandra password")
	flags.String("namespace", cqlstore.DefaultNamespace, "Keyspace holding every collection")
	flags.Duration("connect-timeout", cqlstore.DefaultConnectTimeout, "Bound on the whole connect sequence")
	flags.Duration("timeout", cqlstore.DefaultQueryTimeout, "Per-query timeout")
	flags.String("driver", "gocql", "Session driver (gocql, memory)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-dev", false, "Human-readable development logging")
	flags.Bool("redis", false, "Share provisioned collections through Redis (REDIS_ADDR, REDIS_PASSWORD, REDIS_DB)")
	flags.String("redis-prefix", "cqlstore", "Key prefix for the Redis provision registry")
	flags.Duration("redis-ttl", 0, "Expiry of the Redis provision registry (0 keeps it forever)")
}

// loadConfig reads .env files, binds flags and environment to viper and
// reads the optional config file
func loadConfig(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("cqlstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	for flag, key := range documentFlags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return nil
}

// backendConfig decodes the configuration document from viper
func backendConfig() (cqlstore.Config, error) {
	var doc cqlstore.Document
	if err := viper.Unmarshal(&doc); err != nil {
		return cqlstore.Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg := doc.BackendConf.Cassandra.WithDefaults()
	return cfg, cfg.Validate()
}

func newLogger() (*cqlstore.ZapLogger, error) {
	if viper.GetBool("log-dev") {
		return cqlstore.NewDevelopmentZapLogger()
	}
	return cqlstore.NewProductionZapLogger(viper.GetString("log-level"))
}

// app holds what a command needs to talk to the store
type app struct {
	backend  *cqlstore.Backend
	logger   *cqlstore.ZapLogger
	registry *prometheus.Registry
	redis    *redis.Client
}

// openApp builds a backend from the loaded configuration. Nothing connects
// until the first operation.
func openApp() (*app, error) {
	cfg, err := backendConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	opts := []cqlstore.Option{
		cqlstore.WithLogger(logger),
		cqlstore.WithMetrics(cqlstore.NewPrometheusMetrics(a.registry)),
	}

	switch driver := viper.GetString("driver"); driver {
	case "gocql":
	case "memory":
		logger.Warn("using the in-memory driver; data is lost on exit")
		opts = append(opts, cqlstore.WithDialer(cqlstore.NewMemoryCluster()))
	default:
		return nil, fmt.Errorf("invalid driver %s (expected gocql or memory)", driver)
	}

	if viper.GetBool("redis") {
		a.redis = redis.NewClient(cqlstore.RedisOptions())
		opts = append(opts, cqlstore.WithProvisionRegistry(cqlstore.NewRedisProvisionRegistry(
			a.redis,
			viper.GetString("redis-prefix"),
			viper.GetDuration("redis-ttl"),
		)))
	}

	a.backend, err = cqlstore.New(cfg, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if a.backend != nil {
		a.backend.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.logger.Sync()
}

// commandContext bounds one CLI operation, including the connect sequence
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := viper.GetDuration("connect-timeout") + viper.GetDuration("timeout")
	if timeout <= 0 {
		timeout = time.Minute
	}
	return context.WithTimeout(cmd.Context(), timeout)
}
