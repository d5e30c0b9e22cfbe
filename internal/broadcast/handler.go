package broadcast

import (
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var originsOnce sync.Once
var origins map[string]bool

// checkOrigin validates the Origin header of an upgrade request against the
// comma-separated ALLOWED_ORIGINS environment variable. Requests without an
// Origin header (non-browser clients) are accepted; the default allows
// http://localhost:3000 for local development.
func checkOrigin(r *http.Request) bool {
	originsOnce.Do(func() {
		raw := os.Getenv("ALLOWED_ORIGINS")
		if raw == "" {
			raw = "http://localhost:3000"
		}
		origins = make(map[string]bool)
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins[strings.ToLower(o)] = true
			}
		}
	})

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origins[strings.ToLower(origin)]
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// Handler upgrades HTTP connections to WebSocket and attaches them to the
// subscription key named in the URL.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes wires the broadcast WebSocket endpoint.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/broadcast/{id}", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS upgrades GET /ws/broadcast/{id} and subscribes the connection to
// status events for account {id}. The channel is pure push: the subscriber
// starts receiving events immediately and is not required to send anything.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		http.Error(w, "missing account id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		return
	}

	NewClient(h.registry, conn, id).Start()
}
