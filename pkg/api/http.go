// Package api assembles the local HTTP surface: message submission,
// thread reads, and the encryption lifecycle endpoints.
package api

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"

	"chatsync/pkg/api/handlers"
	"chatsync/pkg/encryption"
	"chatsync/pkg/logger"
	"chatsync/pkg/pipeline"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/utils"
)

// Deps carries the constructed components the routes close over.
type Deps struct {
	Store   *store.Store
	Pipe    *pipeline.Pipeline
	Manager *encryption.Manager
	MaxBody int64
}

// Handler builds the router. All domain routes live under /v1.
func Handler(d Deps) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if d.Store == nil || !d.Store.Ready() {
			utils.JSONError(w, http.StatusServiceUnavailable, "store not ready")
			return
		}
		disk := d.Store.GetDiskMetrics()
		_ = utils.JSONWrite(w, http.StatusOK, struct {
			Status   string `json:"status"`
			DiskUsed string `json:"disk_used"`
		}{Status: "ok", DiskUsed: humanize.Bytes(disk.TotalBytes)})
	}).Methods(http.MethodGet)

	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.RegisterMessages(v1, &handlers.Messages{Pipe: d.Pipe, Store: d.Store, MaxBody: d.MaxBody})
	handlers.RegisterEncryption(v1, &handlers.Encryption{Manager: d.Manager})

	r.Use(requestLogger)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}
