// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package dashboard

const page = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>autotpi</title>
<style>
  body { font-family: Arial, sans-serif; margin: 1.5em; background: #f4f4f4; color: #333; }
  .zone { background: white; border-radius: 8px; padding: 1em; margin-bottom: 1em; max-width: 34em; }
  .big { font-size: 2.2em; }
  .row { margin: 0.3em 0; }
  button { padding: 0.4em 0.9em; margin: 0.1em; border: none; border-radius: 4px; background: #007bff; color: white; cursor: pointer; }
  button.sel { background: #28a745; }
  button.warn { background: #dc3545; }
  .muted { color: #888; font-size: 0.9em; }
  .note { background: #fff3cd; padding: 0.5em; border-radius: 4px; margin: 0.3em 0; max-width: 34em; }
</style>
</head>
<body>
<h1>autotpi</h1>
<div id="zones"></div>
<h2>Notifications</h2>
<div id="notes"></div>
<script>
let ws;
function send(msg) { if (ws && ws.readyState === 1) ws.send(JSON.stringify(msg)); }
function btn(label, msg, cls) {
  const b = document.createElement("button");
  b.textContent = label;
  if (cls) b.className = cls;
  b.onclick = () => send(msg);
  return b;
}
function render(st) {
  const root = document.getElementById("zones");
  root.innerHTML = "";
  for (const z of st.zones) {
    const el = document.createElement("div");
    el.className = "zone";
    el.innerHTML =
      "<h2>" + z.name + "</h2>" +
      "<div class='big'>" + z.indoor.toFixed(1) + "°" + z.unit + " &rarr; " + z.setpoint.toFixed(1) + "°" + z.unit + "</div>" +
      "<div class='row'>outdoor " + z.outdoor.toFixed(1) + "°, duty " + (z.duty * 100).toFixed(0) + "% (" + z.phase + ")</div>" +
      "<div class='row muted'>Kint " + z.kint.toFixed(3) + ", Kext " + z.kext.toFixed(4) +
      ", capacity " + z.capacity.toFixed(2) + "°/h" + (z.bootstrap ? " (bootstrap)" : "") + "</div>" +
      "<div class='row muted'>learning " + (z.autolearn ? "on" : "off") + ": " + (z.last_status || "-") +
      (z.updated ? " @ " + z.updated : "") + "</div>";
    const ctl = document.createElement("div");
    ctl.appendChild(btn("-", {command: "change_setpoint", zone: z.name, delta: -0.5}));
    ctl.appendChild(btn("+", {command: "change_setpoint", zone: z.name, delta: 0.5}));
    for (const m of ["heat", "cool", "stop"]) {
      ctl.appendChild(btn(m, {command: "set_mode", zone: z.name, mode: m}, z.mode === m ? "sel" : ""));
    }
    el.appendChild(ctl);
    const lrn = document.createElement("div");
    lrn.appendChild(btn(z.autolearn ? "stop learning" : "start learning",
      {command: "learning", zone: z.name, action: z.autolearn ? "stop" : "start"}));
    lrn.appendChild(btn("reset learning", {command: "learning", zone: z.name, action: "start-reset"}, "warn"));
    lrn.appendChild(btn(z.curtailed ? "release" : "curtail", {command: "curtail", zone: z.name, on: !z.curtailed}));
    el.appendChild(lrn);
    root.appendChild(el);
  }
  const notes = document.getElementById("notes");
  notes.innerHTML = "";
  for (const n of (st.notifications || [])) {
    const el = document.createElement("div");
    el.className = "note";
    el.textContent = n.title + ": " + n.message;
    notes.appendChild(el);
  }
}
function connect() {
  ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + location.pathname.replace(/\/$/, "") + "/ws");
  ws.onmessage = (ev) => render(JSON.parse(ev.data));
  ws.onclose = () => setTimeout(connect, 3000);
}
connect();
</script>
</body>
</html>
`
