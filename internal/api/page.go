package api

// testPageHTML is a bare subscriber client for poking at a running relay.
const testPageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>TV Relay</title>
  <style>
    body { font-family: "SFMono-Regular", Consolas, Menlo, monospace; background: #0d1117; color: #c9d1d9; margin: 24px; }
    input, button { font: inherit; background: #161b22; color: #c9d1d9; border: 1px solid #30363d; border-radius: 4px; padding: 4px 8px; }
    #log { margin-top: 16px; white-space: pre-wrap; max-height: 70vh; overflow-y: auto; border-top: 1px solid #21262d; padding-top: 8px; }
    .sys { color: #8b949e; }
  </style>
</head>
<body>
  <label>uid <input id="uid" value="browser" /></label>
  <button id="connect">connect</button>
  <button id="disconnect" disabled>disconnect</button>
  <a href="/docs" style="margin-left: 16px; color: #58a6ff;">docs</a>
  <div id="log"></div>
  <script>
    const log = document.getElementById("log");
    const line = (text, cls) => {
      const div = document.createElement("div");
      if (cls) div.className = cls;
      div.textContent = text;
      log.prepend(div);
      while (log.childNodes.length > 500) log.removeChild(log.lastChild);
    };
    let ws = null;
    const setConnected = (on) => {
      document.getElementById("connect").disabled = on;
      document.getElementById("disconnect").disabled = !on;
    };
    document.getElementById("connect").onclick = () => {
      const uid = encodeURIComponent(document.getElementById("uid").value || "browser");
      const scheme = location.protocol === "https:" ? "wss" : "ws";
      ws = new WebSocket(scheme + "://" + location.host + "/websocket/" + uid);
      ws.onopen = () => { setConnected(true); line("open", "sys"); };
      ws.onclose = (e) => { setConnected(false); line("closed " + e.code, "sys"); };
      ws.onmessage = (e) => {
        for (const msg of String(e.data).split("\n")) {
          if (msg !== "") line(msg);
        }
      };
    };
    document.getElementById("disconnect").onclick = () => { if (ws) ws.close(); };
  </script>
</body>
</html>`
