package controller

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/flowcontrol"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/lexfrei/geo-dns-controller/internal/config"
	"github.com/lexfrei/geo-dns-controller/internal/metrics"
	"github.com/lexfrei/geo-dns-controller/internal/provider/clouddns"
	"github.com/lexfrei/geo-dns-controller/internal/reconciler"
	"github.com/lexfrei/geo-dns-controller/internal/watch"
)

// Run wires the controller together and blocks until ctx is cancelled or the
// manager fails.
//
// The function performs the following steps:
//  1. Loads the cluster connection (in-cluster, then kubeconfig)
//  2. Creates the Cloud DNS client with rate limiting and per-call timeouts
//  3. Builds the reconciler and the ingress watch session
//  4. Starts a controller-runtime manager that serves metrics and probes and
//     runs the watch session
//
//nolint:funlen // controller setup requires multiple steps
func Run(ctx context.Context, cfg *config.Config) error {
	logger := log.FromContext(ctx).WithName("manager")
	logger.Info("initializing controller manager")

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load kubernetes client configuration")
	}

	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return errors.Wrap(err, "failed to create kubernetes client")
	}

	logger.Info("creating cloud dns client", "project", cfg.Project, "zone", cfg.Zone)

	service, err := clouddns.NewService(ctx, cfg.CredentialsFile)
	if err != nil {
		return errors.Wrap(err, "failed to create cloud dns client")
	}

	collector := metrics.NewCollector(ctrlmetrics.Registry)

	dnsClient := clouddns.New(service, clouddns.Options{
		Project:     cfg.Project,
		Zone:        cfg.Zone,
		Timeout:     cfg.ProviderTimeout,
		RateLimiter: flowcontrol.NewTokenBucketRateLimiter(cfg.ProviderQPS, cfg.ProviderBurst),
		Metrics:     collector,
		Logger:      slog.Default(),
	})

	rec := reconciler.New(cfg, dnsClient, collector, slog.Default())

	session := watch.NewSession(
		cfg,
		watch.NewIngressSubscriber(clientset),
		NewEventHandler(rec, collector, slog.Default()),
		watch.WithMetrics(collector),
		watch.WithLogger(slog.Default()),
	)

	logger.Info("creating ctrl.Manager")

	mgrOptions := ctrl.Options{
		Metrics: server.Options{
			BindAddress: cfg.MetricsAddr,
		},
		HealthProbeBindAddress: cfg.HealthAddr,
	}

	mgr, err := ctrl.NewManager(restConfig, mgrOptions)
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	if err := mgr.Add(manager.RunnableFunc(session.Run)); err != nil {
		return errors.Wrap(err, "failed to add watch session")
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up health check")
	}

	if err := mgr.AddReadyzCheck("watch", session.Ready); err != nil {
		return errors.Wrap(err, "failed to set up ready check")
	}

	logger.Info("starting manager",
		"record", cfg.RecordName,
		"location", cfg.GeoLocation,
		"labelSelector", cfg.LabelSelector,
	)

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}
