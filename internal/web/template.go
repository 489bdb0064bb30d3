package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/bioreactor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"unix": func(sec int64) string {
		if sec == 0 {
			return "never"
		}
		return time.Unix(sec, 0).UTC().Format("2006-01-02T15:04:05Z")
	},
	"f2": func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	},
	"f3": func(v float64) string {
		return fmt.Sprintf("%.3f", v)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Bioreactor {{.Config.Device}}</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.warn { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Bioreactor {{.Config.Device}}{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>
{{with .Reactor}}
<h2>Culture</h2>
<table>
<tr><th>OD (avg)</th><td id="od">{{f3 .ODAverage}}</td></tr>
<tr><th>OD target</th><td>{{f3 $.Config.DesiredOD}}</td></tr>
<tr><th>Valve</th><td class="{{if .ValveOpen}}ok{{end}}">{{if .ValveOpen}}open{{else}}closed{{end}}</td></tr>
<tr><th>Pulses</th><td id="pulses">{{.Pulses}}</td></tr>
<tr><th>Total volume</th><td id="volume">{{f2 .TotalVolume}}</td></tr>
<tr><th>Last pulse</th><td>{{unix .LastPulseWall}}</td></tr>
</table>

<h2>Temperature</h2>
<table>
<tr><th>Measured</th><td id="temp">{{f2 .Temperature}}</td></tr>
<tr><th>Setpoint</th><td>{{f2 .Setpoint}}</td></tr>
<tr><th>Heater output</th><td id="output">{{f2 .PIDOutput}} / {{f2 $.Config.MaxOutput}}</td></tr>
<tr><th>Gains</th><td>{{.GainSet}}</td></tr>
<tr><th>Loop</th><td>{{.LoopState}}</td></tr>
<tr><th>Sensors</th><td class="{{if .ReadingsHealthy}}ok{{else}}warn{{end}}">{{if .ReadingsHealthy}}ok{{else}}stale{{end}}</td></tr>
</table>

<h2>Run</h2>
<table>
<tr><th>ID</th><td>{{.RunID}}</td></tr>
<tr><th>Started</th><td>{{unix .RunStartWall}} ({{.RunConfidence}})</td></tr>
</table>
<form method="post" action="/run/restart"><button type="submit">Start new run</button></form>

<h2>Clock</h2>
<table>
<tr><th>Wall time</th><td>{{unix .Wall}}</td></tr>
<tr><th>Source</th><td class="{{if eq .Confidence "HIGH"}}ok{{else}}warn{{end}}">{{.ClockSource}} ({{.Confidence}})</td></tr>
<tr><th>Syncs</th><td>{{.SyncAttempts}} attempts, {{.SyncFailures}} failed</td></tr>
<tr><th>Tick</th><td>{{.Tick}}</td></tr>
</table>

{{if .Tasks}}<h2>Tasks</h2>
<table>
<tr><th>Task</th><td>period / runs / last / overruns</td></tr>
{{range .Tasks}}<tr><th>{{.Name}}</th><td>{{.PeriodMs}}ms / {{.Runs}} / {{f2 .LastTookMs}}ms / {{.Overruns}}</td></tr>
{{end}}</table>{{end}}
{{end}}
<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Time sync</th><td>{{.Config.SyncIntervalMs}}ms</td></tr>
<tr><th>Telemetry</th><td>{{.Config.TelemetryMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/records.json">Records</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt@5/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "bioreactor/{{.Config.Device}}/telemetry";
  var dot = document.getElementById("live-dot");

  function setText(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.reactor) {
        setText("od", msg.reactor.od.value.toFixed(3));
        setText("temp", msg.reactor.temperature.value.toFixed(2));
        setText("pulses", msg.reactor.feed.pulses);
        setText("volume", msg.reactor.feed.total_volume.toFixed(2));
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
