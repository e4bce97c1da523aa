package api

// docsHTML renders the huma OpenAPI document together with a summary of the
// streaming endpoints, which OpenAPI cannot describe.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>TV Relay API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    body { margin: 0; height: 100vh; display: flex; flex-direction: column; background: #0d1117; color: #c9d1d9;
           font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; }
    header { padding: 10px 16px; border-bottom: 1px solid #30363d; font-size: 13px; }
    header h1 { font-size: 15px; margin: 0 0 6px; }
    header code { color: #79c0ff; }
    header ul { margin: 0; padding-left: 18px; }
    header a { color: #58a6ff; }
    main { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <header>
    <h1>TV Relay</h1>
    <ul>
      <li><code>GET /websocket/{uid}</code> subscribe over WebSocket; frames carry up to 100 quotes, one per line</li>
      <li><code>GET /sse/{uid}</code> subscribe over Server-Sent Events; one event per batch</li>
      <li><code>GET /healthz/live</code>, <code>GET /healthz/ready</code> health checks; ready means the upstream feed is connected</li>
      <li><code>GET /metrics</code> Prometheus metrics</li>
    </ul>
    <a href="/docs/relay">Subscriber protocol</a> &middot; <a href="/">Test client</a>
  </header>
  <main>
    <elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" darkMode />
  </main>
</body>
</html>`
