package main

import (
	"flag"
	"os"

	"go.opentelemetry.io/otel"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	keeperv1 "github.com/kination/alkeeper/api/v1"
	"github.com/kination/alkeeper/internal/controller"
	"github.com/kination/alkeeper/internal/metrics"
	"github.com/kination/alkeeper/internal/vault"
	"github.com/kination/alkeeper/internal/vault/sim"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(keeperv1.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var probeAddr string
	var enableLeaderElection bool
	var fixturePath string

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. Only one active manager keeps performing.")
	flag.StringVar(&fixturePath, "vault-fixture", "", "Sim fixture file describing the vault backends. Empty uses the built-in fixture.")
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	fixture := sim.DefaultFixture()
	if fixturePath != "" {
		var err error
		if fixture, err = sim.LoadFixture(fixturePath); err != nil {
			setupLog.Error(err, "unable to load vault fixture", "path", fixturePath)
			os.Exit(1)
		}
	}
	env, err := fixture.Build()
	if err != nil {
		setupLog.Error(err, "unable to build vault fixture")
		os.Exit(1)
	}
	vaults := vault.NewRegistry()
	env.Register(vaults)
	setupLog.Info("Registered vault backends", "names", vaults.Names())

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "alkeeper.keeper.alkeeper.io",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	if err = (&controller.KeeperReconciler{
		Client:   mgr.GetClient(),
		Scheme:   mgr.GetScheme(),
		Vaults:   vaults,
		Recorder: metrics.Default(),
		Tracer:   otel.Tracer("github.com/kination/alkeeper/internal/controller"),
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Keeper")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
