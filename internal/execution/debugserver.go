package execution

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// DebugServer exposes a minimal introspection endpoint over an Engine,
// rate-limited the way core/virtual_machine.go's HTTP API is (200 req/s,
// burst 100). It is operator tooling, not part of the execution contract.
type DebugServer struct {
	engine  *Engine
	limiter *rate.Limiter
}

// NewDebugServer wraps engine with a rate-limited debug HTTP handler.
func NewDebugServer(engine *Engine) *DebugServer {
	return &DebugServer{engine: engine, limiter: rate.NewLimiter(200, 100)}
}

func (d *DebugServer) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.limiter.Allow() {
			http.Error(w, "rate limit", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the gorilla/mux router backing the debug server.
func (d *DebugServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(d.rateLimit)
	r.HandleFunc("/debug/config", d.handleConfig).Methods(http.MethodGet)
	return r
}

func (d *DebugServer) handleConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.engine.Config)
}
