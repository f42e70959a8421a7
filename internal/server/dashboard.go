package server

import "net/http"

// handleDashboard serves the embedded ops dashboard.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

// dashboardHTML is the embedded single-page ops dashboard. It connects
// via WebSocket and displays pairing activity in real time.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>qrdrop Dashboard</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body {
    font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, monospace;
    background: #0d1117; color: #c9d1d9; padding: 20px;
  }
  h1 { color: #58a6ff; margin-bottom: 4px; font-size: 1.5em; }
  .subtitle { color: #8b949e; margin-bottom: 20px; font-size: 0.9em; }
  .stats {
    display: grid; grid-template-columns: repeat(auto-fit, minmax(150px, 1fr));
    gap: 12px; margin-bottom: 20px;
  }
  .stat-card {
    background: #161b22; border: 1px solid #30363d; border-radius: 6px;
    padding: 16px; text-align: center;
  }
  .stat-number { font-size: 2em; font-weight: 700; }
  .stat-number.created { color: #58a6ff; }
  .stat-number.delivered { color: #3fb950; }
  .stat-number.timeouts { color: #d29922; }
  .stat-number.rejected { color: #f85149; }
  .stat-label { font-size: 0.8em; color: #8b949e; margin-top: 4px; }
  .event-log {
    background: #161b22; border: 1px solid #30363d; border-radius: 6px;
    max-height: 500px; overflow-y: auto;
  }
  .event-header {
    padding: 12px 16px; border-bottom: 1px solid #30363d;
    font-weight: 600; color: #58a6ff;
  }
  .event-row {
    display: grid; grid-template-columns: 180px 160px 1fr;
    padding: 8px 16px; border-bottom: 1px solid #21262d;
    font-size: 0.85em; align-items: center;
  }
  .event-row:hover { background: #1c2128; }
  .type-session_created { color: #58a6ff; }
  .type-link_delivered { color: #3fb950; }
  .type-watch_timeout { color: #d29922; }
  .type-watch_error, .type-submit_rejected, .type-rate_limited { color: #f85149; }
  .conn { font-size: 0.85em; margin-bottom: 16px; }
  .conn.up { color: #3fb950; }
  .conn.down { color: #f85149; }
</style>
</head>
<body>
<h1>qrdrop</h1>
<div class="subtitle">live pairing activity</div>
<div id="conn" class="conn down">disconnected</div>
<div class="stats">
  <div class="stat-card"><div id="created" class="stat-number created">0</div><div class="stat-label">sessions created</div></div>
  <div class="stat-card"><div id="delivered" class="stat-number delivered">0</div><div class="stat-label">links delivered</div></div>
  <div class="stat-card"><div id="timeouts" class="stat-number timeouts">0</div><div class="stat-label">timeouts</div></div>
  <div class="stat-card"><div id="rejected" class="stat-number rejected">0</div><div class="stat-label">rejections</div></div>
</div>
<div class="event-log">
  <div class="event-header">Events</div>
  <div id="events"></div>
</div>
<script>
  const counts = { created: 0, delivered: 0, timeouts: 0, rejected: 0 };
  const bump = (k) => { counts[k]++; document.getElementById(k).textContent = counts[k]; };

  function connect() {
    const proto = location.protocol === "https:" ? "wss:" : "ws:";
    const ws = new WebSocket(proto + "//" + location.host + "/ws");
    const conn = document.getElementById("conn");

    ws.onopen = () => { conn.textContent = "connected"; conn.className = "conn up"; };
    ws.onclose = () => {
      conn.textContent = "disconnected";
      conn.className = "conn down";
      setTimeout(connect, 2000);
    };
    ws.onmessage = (msg) => {
      const ev = JSON.parse(msg.data);
      if (ev.type === "session_created") bump("created");
      else if (ev.type === "link_delivered") bump("delivered");
      else if (ev.type === "watch_timeout") bump("timeouts");
      else bump("rejected");

      const row = document.createElement("div");
      row.className = "event-row";
      row.innerHTML =
        "<span>" + new Date(ev.time).toLocaleTimeString() + "</span>" +
        '<span class="type-' + ev.type + '">' + ev.type + "</span>" +
        "<span>" + (ev.session_id || "") + " " + (ev.detail || "") + "</span>";
      const log = document.getElementById("events");
      log.insertBefore(row, log.firstChild);
      while (log.childElementCount > 200) log.removeChild(log.lastChild);
    };
  }
  connect();
</script>
</body>
</html>
`
