package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	flag "github.com/spf13/pflag"

	"github.com/scarfall-net/warm-pool-autoscaler/pkg/config"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/controller"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/kubeclient"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/metrics"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/nodegroup"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/probe"
	"github.com/scarfall-net/warm-pool-autoscaler/pkg/tracing"
)

var version = "dev"

func main() {
	slog.Info("Starting warm-pool-autoscaler", "version", version)

	var (
		configPath string
		dryRunFlag bool
		onceFlag   bool
	)

	flag.StringVar(&configPath, "config", "", "Path to optional config file (env vars override it)")
	flag.BoolVar(&dryRunFlag, "dry-run", false, "Run without making actual changes")
	flag.BoolVar(&onceFlag, "once", false, "Run a single reconcile cycle and exit")
	flag.Parse()

	spec, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if dryRunFlag {
		spec.DryRun = true
	}

	var level slog.Level
	switch spec.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	shutdownTracing, err := tracing.Init("warm-pool-autoscaler")
	if err != nil {
		slog.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	metrics.Init()
	startHealthEndpoints()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kube, err := kubeclient.Get()
	if err != nil {
		slog.Error("failed to init k8s client", "err", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(spec.Region))
	if err != nil {
		slog.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	gateway := &nodegroup.Gateway{
		EKS:           eks.NewFromConfig(awsCfg),
		EC2:           ec2.NewFromConfig(awsCfg),
		Kube:          kube,
		ClusterName:   spec.ClusterName,
		NodeGroupName: spec.NodeGroupName,
		DryRun:        spec.DryRun,
	}

	r := controller.NewReconciler(spec, probe.New(kube), gateway)

	slog.Info("Managing warm pool",
		"cluster", spec.ClusterName,
		"nodeGroup", spec.NodeGroupName,
		"namespace", spec.Namespace,
		"podPrefix", spec.PodPrefix,
		"targetPoolSize", spec.TargetPoolSize(),
		"mode", spec.Mode,
		"dryRun", spec.DryRun)

	if onceFlag {
		if err := r.RunOnce(ctx); err != nil {
			slog.Error("reconcile error", "err", err)
		}
		return
	}

	r.Run(ctx)
	slog.Info("Shutdown complete")
}

func startHealthEndpoints() {
	slog.Info("Starting health endpoints on :8080")

	http.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	http.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	go func() {
		if err := http.ListenAndServe(":8080", nil); err != nil {
			slog.Error("health endpoint server crashed", "err", err)
		}
	}()
}
