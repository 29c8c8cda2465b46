// Package probe detects which backing runtimes are present on the host.
// Every check is a read-only query; probing never mutates runtime state.
package probe

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/openberth/berth/pkg/runner"
)

// ServiceManagerFlavor identifies which service manager backend is usable.
type ServiceManagerFlavor string

const (
	// ManagerSystemd is the unit-based manager, preferred when present.
	ManagerSystemd ServiceManagerFlavor = "systemd"

	// ManagerSysV is the legacy init-script manager, used only when systemd
	// is absent.
	ManagerSysV ServiceManagerFlavor = "sysvinit"

	// ManagerNone means no usable service manager was found.
	ManagerNone ServiceManagerFlavor = "none"
)

// Capabilities is the result of one probe pass.
type Capabilities struct {
	// Docker reports whether the container engine binary is present and the
	// daemon answers.
	Docker bool `json:"docker"`

	// DockerVersion is the daemon server version when Docker is true.
	DockerVersion string `json:"docker_version,omitempty"`

	// Systemd reports a running unit-based service manager.
	Systemd bool `json:"systemd"`

	// SysVInit reports a usable legacy init-script manager.
	SysVInit bool `json:"sysv_init"`

	// Helm reports the helm binary is present.
	Helm bool `json:"helm"`

	// HelmVersion is the helm client version when Helm is true.
	HelmVersion string `json:"helm_version,omitempty"`

	// Kubernetes reports a loadable kubeconfig whose API server answered a
	// version query.
	Kubernetes bool `json:"kubernetes"`

	// KubernetesVersion is the API server version when Kubernetes is true.
	KubernetesVersion string `json:"kubernetes_version,omitempty"`
}

// ServiceManager returns the backend the service strategy must use. The
// unit-based manager always wins when both are present.
func (c *Capabilities) ServiceManager() ServiceManagerFlavor {
	if c.Systemd {
		return ManagerSystemd
	}
	if c.SysVInit {
		return ManagerSysV
	}
	return ManagerNone
}

// Prober runs the capability checks. The Kubernetes check is injectable so
// tests never need a live cluster.
type Prober struct {
	runner    runner.Runner
	logger    zerolog.Logger
	kubeCheck func(ctx context.Context) (string, error)

	// systemdMarker is the directory whose presence marks a running systemd.
	systemdMarker string

	// initScriptDir is the legacy init-script directory.
	initScriptDir string
}

// NewProber creates a prober with production defaults.
func NewProber(run runner.Runner, logger zerolog.Logger) *Prober {
	return &Prober{
		runner:        run,
		logger:        logger.With().Str("component", "probe").Logger(),
		kubeCheck:     defaultKubeCheck,
		systemdMarker: "/run/systemd/system",
		initScriptDir: "/etc/init.d",
	}
}

// Detect performs one full probe pass.
func (p *Prober) Detect(ctx context.Context) *Capabilities {
	caps := &Capabilities{}

	p.detectDocker(ctx, caps)
	p.detectServiceManagers(caps)
	p.detectHelm(ctx, caps)
	p.detectKubernetes(ctx, caps)

	p.logger.Debug().
		Bool("docker", caps.Docker).
		Bool("systemd", caps.Systemd).
		Bool("sysv", caps.SysVInit).
		Bool("helm", caps.Helm).
		Bool("kubernetes", caps.Kubernetes).
		Msg("Capability probe completed")

	return caps
}

func (p *Prober) detectDocker(ctx context.Context, caps *Capabilities) {
	if _, err := p.runner.LookPath("docker"); err != nil {
		return
	}
	// The binary alone is not enough: the daemon must answer.
	result, err := p.runner.Run(ctx, "docker", "version", "--format", "{{.Server.Version}}")
	if err != nil || !result.Succeeded() {
		return
	}
	caps.Docker = true
	caps.DockerVersion = result.Output()
}

func (p *Prober) detectServiceManagers(caps *Capabilities) {
	if info, err := os.Stat(p.systemdMarker); err == nil && info.IsDir() {
		if _, err := p.runner.LookPath("systemctl"); err == nil {
			caps.Systemd = true
		}
	}
	if _, err := p.runner.LookPath("service"); err == nil {
		caps.SysVInit = true
		return
	}
	if info, err := os.Stat(p.initScriptDir); err == nil && info.IsDir() {
		caps.SysVInit = true
	}
}

func (p *Prober) detectHelm(ctx context.Context, caps *Capabilities) {
	if _, err := p.runner.LookPath("helm"); err != nil {
		return
	}
	result, err := p.runner.Run(ctx, "helm", "version", "--short")
	if err != nil || !result.Succeeded() {
		return
	}
	caps.Helm = true
	caps.HelmVersion = strings.TrimSpace(result.Output())
}

func (p *Prober) detectKubernetes(ctx context.Context, caps *Capabilities) {
	version, err := p.kubeCheck(ctx)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Kubernetes API not reachable")
		return
	}
	caps.Kubernetes = true
	caps.KubernetesVersion = version
}

// defaultKubeCheck loads the default kubeconfig chain and asks the API server
// for its version.
func defaultKubeCheck(ctx context.Context) (string, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules, &clientcmd.ConfigOverrides{})

	restConfig, err := clientConfig.ClientConfig()
	if err != nil {
		return "", err
	}

	disco, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return "", err
	}
	version, err := disco.ServerVersion()
	if err != nil {
		return "", err
	}
	return version.GitVersion, nil
}
