package puppetcm

import (
	"fmt"
	"strings"
	"text/template"
)

// Configuration fragment templates. Each renders one ordered section of
// puppet.conf; the builder assembles them into a single file in ascending
// order.

const mainTemplate = `[main]
    logdir = /var/log/puppet
    rundir = /var/run/puppet
    ssldir = $vardir/ssl
    confdir = {{ .ConfDir }}
    certname = {{ .Certname }}
`

const agentTemplate = `
[agent]
    classfile = $vardir/classes.txt
    localconfig = $vardir/localconfig
    server = {{ .Server }}
    environment = {{ .Environment }}
    report = true
`

const masterTemplate = `
[master]
    autosign = {{ .ConfDir }}/autosign.conf
    reports = store
`

const storeconfigsTemplate = `
    storeconfigs = true
    dbadapter = {{ .Adapter }}
{{- if .DBUser }}
    dbuser = {{ .DBUser }}
{{- end }}
{{- if .DBPassword }}
    dbpassword = {{ .DBPassword }}
{{- end }}
{{- if .DBServer }}
    dbserver = {{ .DBServer }}
{{- end }}
{{- if .DBSocket }}
    dbsocket = {{ .DBSocket }}
{{- end }}
`

var templates = template.Must(template.New("puppetcm").Parse(""))

func init() {
	template.Must(templates.New("main").Parse(mainTemplate))
	template.Must(templates.New("agent").Parse(agentTemplate))
	template.Must(templates.New("master").Parse(masterTemplate))
	template.Must(templates.New("storeconfigs").Parse(storeconfigsTemplate))
}

// render executes a named fragment template.
func render(name string, data any) (string, error) {
	var buf strings.Builder
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s fragment: %w", name, err)
	}
	return buf.String(), nil
}
