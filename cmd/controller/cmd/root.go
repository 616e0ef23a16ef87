package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/lexfrei/geo-dns-controller/internal/config"
	"github.com/lexfrei/geo-dns-controller/internal/controller"
)

const envPrefix = "GEODNS"

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "geo-dns-controller",
	Short: "Publishes ingress load balancer addresses into a Cloud DNS geo record",
	Long: `A Kubernetes controller that watches labelled Ingresses and merges this
region's load balancer address into a shared Google Cloud DNS A record with a
geo routing policy. Every region runs its own instance and owns one location
entry of the record; entries of other regions are left untouched.`,
	RunE:          runController,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, text)")

	rootCmd.Flags().String(config.KeyProject, "", "Google Cloud project (or use GCP_PROJECT env var)")
	rootCmd.Flags().String(config.KeyZone, "", "Cloud DNS managed zone name (or use DNS_ZONE_NAME env var)")
	rootCmd.Flags().String(config.KeyRecordName, "", "DNS record name (or use DNS_RECORD_NAME env var)")
	rootCmd.Flags().String(config.KeyLabelSelector, config.DefaultLabelSelector, "Label selector for watched Ingresses")
	rootCmd.Flags().String(config.KeyGeoLocation, config.DefaultGeoLocation, "Geo location this instance owns in the record")
	rootCmd.Flags().Int64(config.KeyTTL, config.DefaultTTL, "Record TTL in seconds (1-86400)")
	rootCmd.Flags().String(config.KeyCredentialsFile, "", "Service account JSON key (defaults to Application Default Credentials)")
	rootCmd.Flags().Bool(config.KeyAdoptPlainRecord, true, "Convert an existing record without geo routing policy")

	// Watch flags
	rootCmd.Flags().Duration(config.KeyReconnectDelay, config.DefaultReconnectDelay, "Wait before reconnecting the ingress watch")
	rootCmd.Flags().Duration(config.KeyWatchTimeout, config.DefaultWatchTimeout, "Server-side timeout of a single watch request")

	// DNS provider flags
	rootCmd.Flags().Int(config.KeyMaxAttempts, config.DefaultMaxAttempts, "Attempts per reconciliation")
	rootCmd.Flags().Duration(config.KeyRetryBaseDelay, config.DefaultRetryBaseDelay, "Delay after the first failed attempt")
	rootCmd.Flags().Duration(config.KeyRetryMaxDelay, config.DefaultRetryMaxDelay, "Maximum delay between attempts")
	rootCmd.Flags().Duration(config.KeyProviderTimeout, config.DefaultProviderTimeout, "Timeout of a single Cloud DNS call")
	rootCmd.Flags().Float32(config.KeyProviderQPS, config.DefaultProviderQPS, "Cloud DNS calls per second")
	rootCmd.Flags().Int(config.KeyProviderBurst, config.DefaultProviderBurst, "Cloud DNS call burst")

	rootCmd.Flags().String(config.KeyMetricsAddr, config.DefaultMetricsAddr, "Address for metrics endpoint")
	rootCmd.Flags().String(config.KeyHealthAddr, config.DefaultHealthAddr, "Address for health probe endpoint")

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	config.SetDefaults(viper.GetViper())

	viper.SetDefault("log-level", "info")
	viper.SetDefault("log-format", "json")

	_ = viper.BindEnv("log-level", envPrefix+"_LOG_LEVEL")
	_ = viper.BindEnv("log-format", envPrefix+"_LOG_FORMAT")

	if err := config.BindEnv(viper.GetViper(), envPrefix); err != nil {
		slog.Error("failed to bind environment", "error", err)
	}
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo

	switch viper.GetString("log-level") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if viper.GetString("log-format") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func runController(_ *cobra.Command, _ []string) error {
	logger := setupLogger()
	slog.SetDefault(logger)

	bridge := logr.FromSlogHandler(logger.Handler())
	ctrl.SetLogger(bridge)
	klog.SetLogger(bridge)

	logger.Info("starting geo-dns-controller",
		"version", version,
		"gitsha", gitsha,
	)

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	logger.Info("configuration loaded",
		"project", cfg.Project,
		"zone", cfg.Zone,
		"record", cfg.RecordName,
		"location", cfg.GeoLocation,
		"ttl", cfg.TTL,
		"labelSelector", cfg.LabelSelector,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := controller.Run(ctx, cfg); err != nil {
		return errors.Wrap(err, "failed to run controller")
	}

	logger.Info("shutdown complete")

	return nil
}
