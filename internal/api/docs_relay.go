package api

const relayDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Subscriber Protocol - TV Relay</title>
  <style>
    body {
      margin: 0 auto;
      max-width: 860px;
      padding: 32px 24px 64px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    h1 { color: #e6edf3; font-size: 26px; margin: 0 0 8px; }
    h2 { color: #e6edf3; font-size: 18px; margin: 36px 0 12px; padding-bottom: 8px; border-bottom: 1px solid #21262d; }
    code, pre {
      font-family: "SFMono-Regular", Consolas, "Liberation Mono", Menlo, monospace;
      font-size: 13px;
      background: #161b22;
      border: 1px solid #30363d;
      border-radius: 6px;
    }
    code { padding: 1px 5px; }
    pre { padding: 12px 16px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    td, th { border: 1px solid #30363d; padding: 6px 10px; text-align: left; }
  </style>
</head>
<body>
  <p><a href="/docs">&larr; API reference</a></p>
  <h1>Subscriber Protocol</h1>
  <p>The relay keeps one connection to the upstream feed and forwards every frame it receives to all connected subscribers.</p>

  <h2>Connecting</h2>
  <pre>ws://HOST/websocket/{uid}</pre>
  <p>The <code>uid</code> names the subscriber. Connecting again with the same id replaces and closes the earlier connection.
  The first frame after connecting is the acknowledgement <code>connected</code>.</p>
  <p>Clients without WebSocket support can read the same stream as Server-Sent Events from <code>/sse/{uid}</code>.
  Each batch arrives as one <code>message</code> event with one <code>data:</code> line per feed message.</p>

  <h2>Frames</h2>
  <p>Feed messages are delivered in batches. A batch frame holds up to 100 messages, each followed by a newline:</p>
  <pre>AAPL:190.5
MSFT:410.1
</pre>
  <p>Split on <code>\n</code> and ignore the trailing empty element. Messages from the feed keep their order per subscriber.
  Feed heartbeats (<code>heart</code>) are never forwarded.</p>
  <p>Frames sent by subscribers are ignored.</p>

  <h2>Control endpoints</h2>
  <table>
    <tr><th>Endpoint</th><th>Purpose</th></tr>
    <tr><td><code>GET /api/v1/status</code></td><td>Upstream state, online count, mailbox and pool counters</td></tr>
    <tr><td><code>GET /api/v1/subscribers</code></td><td>Registered subscriber ids</td></tr>
    <tr><td><code>POST /api/v1/subscribers/{uid}/messages</code></td><td>Send one message to one subscriber, outside its batch queue</td></tr>
    <tr><td><code>POST /api/v1/broadcast</code></td><td>Fan a message out as if the feed sent it</td></tr>
    <tr><td><code>GET /healthz/ready</code></td><td><code>READY</code> while the feed is connected, 503 otherwise</td></tr>
    <tr><td><code>GET /metrics</code></td><td>Prometheus metrics</td></tr>
  </table>
</body>
</html>`
