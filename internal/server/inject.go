package server

import (
	"bytes"
	"fmt"
)

// reloadScript reconnects after the socket drops, so a restarted preview
// picks the page back up.
const reloadScript = `<script nonce="%s">
(function() {
  var url = (location.protocol === "https:" ? "wss://" : "ws://") + location.host + "%s";
  function connect() {
    var ws = new WebSocket(url);
    ws.onmessage = function(e) { if (e.data === "reload") location.reload(); };
    ws.onclose = function() { setTimeout(connect, 1000); };
  }
  connect();
})();
</script>`

// InjectLiveReload inserts the reload script before the last </body>, or
// appends it when the page has none.
func InjectLiveReload(html []byte, nonce string) []byte {
	script := fmt.Appendf(nil, reloadScript, nonce, reloadPath)

	idx := bytes.LastIndex(bytes.ToLower(html), []byte("</body>"))
	if idx == -1 {
		return append(html, script...)
	}
	out := make([]byte, 0, len(html)+len(script))
	out = append(out, html[:idx]...)
	out = append(out, script...)
	return append(out, html[idx:]...)
}
