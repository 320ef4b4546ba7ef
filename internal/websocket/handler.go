package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"
)

// HandleWebSocket upgrades the request and streams hub messages to it until
// the connection closes. The initial subscription comes from the entity and
// date query parameters. originPatterns restricts cross-origin clients; an
// empty list accepts same-origin requests only.
func HandleWebSocket(hub *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}

		filter := FilterFromQuery(r.URL.Query())
		logger.Debug("websocket client connected", "clients", hub.ClientCount()+1, "entities", filter.Entities, "date", filter.Date)
		client := NewClient(hub, conn, filter)
		client.Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
