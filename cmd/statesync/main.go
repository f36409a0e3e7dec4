package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"statesync/pkg/adapters"
	"statesync/pkg/adapters/fssource"
	"statesync/pkg/adapters/gitsource"
	"statesync/pkg/adapters/kubetarget"
	"statesync/pkg/config"
	"statesync/pkg/controllers/application"
	"statesync/pkg/core"
	"statesync/pkg/observability/metrics"
)

func main() {
	var configPath string
	var metricsAddr string
	var kubeconfig string
	var cacheDir string
	var development bool

	flag.StringVar(&configPath, "config", "/etc/statesync/statesync.yaml", "Path to the configuration file.")
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&kubeconfig, "kubeconfig", os.Getenv("KUBECONFIG"), "Path to a kubeconfig; empty selects in-cluster configuration.")
	flag.StringVar(&cacheDir, "cache-dir", defaultCacheDir(), "Directory for desired-state repository clones.")
	flag.BoolVar(&development, "development", false, "Enable development logging.")
	flag.Parse()

	logger := newLogger(development)
	setupLog := logger.WithName("setup")

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load configuration", "path", configPath)
		os.Exit(1)
	}

	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		setupLog.Error(err, "unable to build kube client configuration")
		os.Exit(1)
	}
	kubeClient, err := client.New(restConfig, client.Options{Scheme: clientgoscheme.Scheme})
	if err != nil {
		setupLog.Error(err, "unable to construct kube client")
		os.Exit(1)
	}

	recorder := metrics.NewRecorder(nil)
	target := kubetarget.New(kubeClient, cfg.KindMappings(), logger)
	source := routedSource{
		git: gitsource.New(cacheDir, logger),
		fs:  fssource.New(logger),
	}

	engine := application.NewEngine(source, target, application.Options{
		Interval:      time.Duration(cfg.Interval),
		SourceTimeout: time.Duration(cfg.SourceTimeout),
		TargetTimeout: time.Duration(cfg.TargetTimeout),
		ApplyTimeout:  time.Duration(cfg.ApplyTimeout),
		Logger:        logger.WithName("engine"),
		Metrics:       recorder,
	})

	for _, app := range cfg.Applications {
		err := engine.Register(application.Application{
			ID:        app.ID,
			SourceRef: app.Source,
			Target:    app.Target,
			Policy:    app.Policy.SyncPolicy(),
		})
		if err != nil {
			setupLog.Error(err, "unable to register application", "application", app.ID)
			os.Exit(1)
		}
		setupLog.Info("registered application", "application", app.ID, "target", app.Target)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		setupLog.Info("serving metrics", "address", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			setupLog.Error(err, "metrics server failed")
		}
	}()

	err = engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		setupLog.Error(err, "engine stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		setupLog.Error(err, "metrics server shutdown failed")
	}
}

// routedSource picks the desired-state adapter per application: refs that
// name a local directory read through the filesystem source, everything else
// is treated as a git repository.
type routedSource struct {
	git adapters.DesiredStateSource
	fs  adapters.DesiredStateSource
}

func (s routedSource) Load(ctx context.Context, ref string) ([]core.Resource, string, error) {
	if isLocalRef(ref) {
		return s.fs.Load(ctx, ref)
	}
	return s.git.Load(ctx, ref)
}

func isLocalRef(ref string) bool {
	return strings.HasPrefix(ref, "/") || strings.HasPrefix(ref, "./") || strings.HasPrefix(ref, "../")
}

func newLogger(development bool) logr.Logger {
	var zapLogger *zap.Logger
	var err error
	if development {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return zapr.NewLogger(zapLogger)
}

func defaultCacheDir() string {
	if dir := os.Getenv("STATESYNC_CACHE_DIR"); dir != "" {
		return dir
	}
	return "/var/cache/statesync/repos"
}
