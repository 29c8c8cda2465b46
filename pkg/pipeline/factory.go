package pipeline

import (
	"fmt"

	"github.com/rs/zerolog"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/openberth/berth/pkg/engine"
	"github.com/openberth/berth/pkg/probe"
	"github.com/openberth/berth/pkg/runner"
	"github.com/openberth/berth/pkg/strategies/container"
	"github.com/openberth/berth/pkg/strategies/helm"
	"github.com/openberth/berth/pkg/strategies/service"
)

// StrategyFactory builds the strategy serving one deployment kind against
// the probed host capabilities. A missing backing runtime is a
// precondition-class error; the unit fails without any runtime interaction.
type StrategyFactory func(kind engine.Kind, caps *probe.Capabilities) (engine.Strategy, error)

// NewStrategyFactory returns the production factory.
func NewStrategyFactory(run runner.Runner, logger zerolog.Logger) StrategyFactory {
	return func(kind engine.Kind, caps *probe.Capabilities) (engine.Strategy, error) {
		switch kind {
		case engine.KindContainer:
			if !caps.Docker {
				return nil, engine.NewPreconditionError(
					"container engine is not available on this host", nil).
					WithCode(engine.ErrCodeRuntimeMissing)
			}
			return container.New(run, logger), nil

		case engine.KindService:
			switch caps.ServiceManager() {
			case probe.ManagerSystemd:
				return service.New(service.NewSystemdManager(run, logger), logger), nil
			case probe.ManagerSysV:
				return service.New(service.NewSysVManager(run, logger), logger), nil
			default:
				return nil, engine.NewPreconditionError(
					"no usable service manager on this host", nil).
					WithCode(engine.ErrCodeRuntimeMissing)
			}

		case engine.KindHelmRelease:
			if !caps.Helm {
				return nil, engine.NewPreconditionError(
					"helm is not available on this host", nil).
					WithCode(engine.ErrCodeRuntimeMissing)
			}
			if !caps.Kubernetes {
				return nil, engine.NewPreconditionError(
					"kubernetes API is not reachable from this host", nil).
					WithCode(engine.ErrCodeRuntimeMissing)
			}
			client, err := kubeClient()
			if err != nil {
				return nil, engine.NewPreconditionError(
					"failed to build kubernetes client", err).
					WithCode(engine.ErrCodeRuntimeMissing)
			}
			return helm.New(run, client, logger), nil

		default:
			return nil, fmt.Errorf("unknown deployment kind: %s", kind)
		}
	}
}

// kubeClient builds a clientset from the default kubeconfig chain.
func kubeClient() (kubernetes.Interface, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules, &clientcmd.ConfigOverrides{})

	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, err
	}
	return kubernetes.NewForConfig(restConfig)
}
