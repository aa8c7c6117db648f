package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/ehtick/voltage-controlled-relay/internal/gpio"
	"github.com/ehtick/voltage-controlled-relay/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime":         formatUptime,
	"stateOrUnknown": stateOrUnknown,
	"volts": func(v float64) string {
		return fmt.Sprintf("%.2f V", v)
	},
	"loads": gpio.LoadString,
}).Parse(indexHTML))

// formatUptime renders d as "3d 4h 5m 6s", leaving out leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	units := []struct {
		suffix string
		size   int64
	}{{"d", 86400}, {"h", 3600}, {"m", 60}, {"s", 1}}

	var parts []string
	for _, u := range units {
		n := secs / u.size
		secs %= u.size
		if n > 0 || len(parts) > 0 || u.suffix == "s" {
			parts = append(parts, fmt.Sprintf("%d%s", n, u.suffix))
		}
	}
	return strings.Join(parts, " ")
}

func stateOrUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Voltage Relay</title>
<style>
:root { --ok: #2e7d32; --bad: #c62828; --warn: #ef6c00; --dim: #777; }
body { font: 14px/1.4 ui-monospace, monospace; max-width: 640px; margin: 1.5em auto; padding: 0 1em; color: #222; }
h1 { font-size: 1.3em; margin-bottom: 0.2em; }
h2 { font-size: 1.05em; margin: 1.4em 0 0.3em; border-bottom: 2px solid #eee; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 3px 6px; }
th { width: 38%; font-weight: normal; color: var(--dim); }
.on, .connected { color: var(--ok); font-weight: bold; }
.off { color: var(--dim); }
.unknown { color: var(--warn); }
.disconnected { color: var(--bad); }
#live { display: inline-block; width: 9px; height: 9px; border-radius: 50%; margin-left: 8px; background: var(--warn); }
#live.ok { background: var(--ok); }
#live.err { background: var(--bad); }
</style>
</head>
<body>
<h1>Voltage Relay<span id="live" title="connecting"></span></h1>

<h2>Battery</h2>
<table>
<tr><th>Voltage</th><td id="volts">{{volts .Volts}}</td></tr>
<tr><th>ADC code</th><td id="raw">{{.Raw}}{{if .Clamped}} (clamped){{end}}</td></tr>
<tr><th>State</th><td id="state" class="{{if eq (stateOrUnknown .StateName) "OFF"}}off{{else if eq (stateOrUnknown .StateName) "UNKNOWN"}}unknown{{else}}on{{end}}">{{stateOrUnknown .StateName}}</td></tr>
<tr><th>Loads</th><td id="loads">{{loads .Loads}}</td></tr>
{{if .Override}}<tr><th>Override</th><td>{{.Override}}</td></tr>{{end}}
{{if .Pending}}<tr><th>Pending</th><td>{{.Pending.Class}} for {{.Pending.ElapsedMs}}ms</td></tr>{{end}}
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}none{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counters</h2>
<table>
<tr><th>Rises</th><td id="rises">{{.Counts.Rises}}</td></tr>
<tr><th>Drops</th><td id="drops">{{.Counts.Drops}}</td></tr>
<tr><th>Sample errors</th><td>{{.SampleErrors}}</td></tr>
<tr><th>Telemetry sent</th><td>{{.Telemetry.Sent}}</td></tr>
<tr><th>Telemetry dropped</th><td>{{.Telemetry.Dropped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Policy</th><td>{{.Config.Policy}} ({{.Config.Loads}} loads)</td></tr>
<tr><th>Cycle</th><td>{{.Config.CycleMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">index.json</a></p>
<script>
(function() {
  var live = document.getElementById("live");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";

  function set(id, text) {
    document.getElementById(id).textContent = text;
  }

  function connect() {
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { live.className = "ok"; live.title = "live"; };
    ws.onclose = function() {
      live.className = "err";
      live.title = "offline";
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        set("volts", s.volts.toFixed(2) + " V");
        set("raw", s.raw + (s.clamped ? " (clamped)" : ""));
        set("state", s.state);
        document.getElementById("state").className = s.state === "OFF" ? "off" : "on";
        set("loads", s.loads);
        set("rises", s.event_counts.rise);
        set("drops", s.event_counts.drop);
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// uptime is taken once so every field on the page shows the same instant
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
