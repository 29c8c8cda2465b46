package service

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/openberth/berth/pkg/engine"
)

// unitTemplate is the systemd unit definition. The restart policy is always
// on with a fixed backoff.
const unitTemplate = `[Unit]
Description={{ .Description | default .Identity }}
After=network.target

[Service]
Type=simple
User={{ .User }}
{{- if .WorkDir }}
WorkingDirectory={{ .WorkDir }}
{{- end }}
ExecStart={{ .ExecPath }}{{ range .Args }} {{ . }}{{ end }}
Restart=always
RestartSec=5

[Install]
WantedBy=multi-user.target
`

// initScriptTemplate is the legacy init script. It runs the executable as the
// target user in the background and signals liveness via process lookup by
// executable path. The exec-path marker line is read back by the sysv
// backend for its own process-table check.
const initScriptTemplate = `#!/bin/sh
### BEGIN INIT INFO
# Provides:          {{ .Identity }}
# Required-Start:    $network $local_fs
# Required-Stop:     $network $local_fs
# Default-Start:     2 3 4 5
# Default-Stop:      0 1 6
# Short-Description: {{ .Description | default .Identity }}
### END INIT INFO
# exec-path: {{ .ExecPath }}

NAME="{{ .Identity }}"
RUN_USER="{{ .User }}"
EXEC="{{ .ExecPath }}"
ARGS="{{ join " " .Args }}"
WORKDIR="{{ .WorkDir | default "/" }}"
LOGFILE="/var/log/${NAME}.log"

is_running() {
    pgrep -f "$EXEC" >/dev/null 2>&1
}

start() {
    if is_running; then
        echo "$NAME is already running"
        return 0
    fi
    echo "Starting $NAME"
    cd "$WORKDIR" || exit 1
    su -s /bin/sh -c "exec \"$EXEC\" $ARGS >> \"$LOGFILE\" 2>&1 &" "$RUN_USER"
}

stop() {
    if ! is_running; then
        echo "$NAME is not running"
        return 0
    fi
    echo "Stopping $NAME"
    pkill -f "$EXEC"
}

status() {
    if is_running; then
        echo "$NAME is running"
        return 0
    fi
    echo "$NAME is stopped"
    return 3
}

case "$1" in
    start)   start ;;
    stop)    stop ;;
    restart) stop; sleep 1; start ;;
    status)  status ;;
    *)       echo "Usage: $0 {start|stop|restart|status}"; exit 1 ;;
esac
`

// renderData is the parameter set both templates consume.
type renderData struct {
	Identity    string
	Description string
	User        string
	WorkDir     string
	ExecPath    string
	Args        []string
}

func newRenderData(identity string, spec *engine.ServiceSpec) renderData {
	return renderData{
		Identity:    identity,
		Description: spec.Description,
		User:        spec.User,
		WorkDir:     spec.WorkDir,
		ExecPath:    spec.ExecPath,
		Args:        spec.Args,
	}
}

func render(name, text string, data renderData) (string, error) {
	tmpl, err := template.New(name).Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// renderUnit produces the systemd unit file contents.
func renderUnit(identity string, spec *engine.ServiceSpec) (string, error) {
	return render("unit", unitTemplate, newRenderData(identity, spec))
}

// renderInitScript produces the legacy init script contents.
func renderInitScript(identity string, spec *engine.ServiceSpec) (string, error) {
	return render("init-script", initScriptTemplate, newRenderData(identity, spec))
}
