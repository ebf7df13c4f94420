package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/httpserver/handlers"
)

func init() { Register("socket", registerSocket, authenticate) }

func registerSocket(r chi.Router, d deps.Deps) {
	r.Get("/ws", handlers.Socket(d))
}
