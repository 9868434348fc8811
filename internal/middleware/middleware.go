package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/secureqr/secureqr/internal/config"
	"github.com/secureqr/secureqr/internal/database"
	"github.com/secureqr/secureqr/internal/logger"
	"github.com/secureqr/secureqr/internal/metrics"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb     *database.Redis
	log     *logger.Logger
	cfg     *config.Config
	metrics *metrics.Metrics
}

// New creates a new Middleware instance. rdb may be nil, in which case rate
// limiting passes every request through.
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config, m *metrics.Metrics) *Middleware {
	return &Middleware{
		rdb:     rdb,
		log:     log.WithComponent("http"),
		cfg:     cfg,
		metrics: m,
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}
