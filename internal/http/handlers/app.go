package handlers

import (
	"encoding/json"
	"net/http"

	"genproxy/internal/domain"
	"genproxy/internal/infra"
	"genproxy/internal/middleware"
	"genproxy/internal/scheduler"
	"genproxy/internal/storage"
)

type App struct {
	Service *scheduler.Service
	Clients domain.ClientRepository
	Files   *storage.FileStore
	Logger  infra.Logger
}

func NewApp(service *scheduler.Service, clients domain.ClientRepository, files *storage.FileStore, logger infra.Logger) *App {
	return &App{Service: service, Clients: clients, Files: files, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]any{
		"error":   code,
		"message": message,
	})
}

func (a *App) currentClientID(r *http.Request) string {
	return middleware.ClientIDFromContext(r.Context())
}
