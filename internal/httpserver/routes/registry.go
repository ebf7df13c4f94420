package routes

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/clipsync/clipsync/internal/httpserver/deps"
	"github.com/clipsync/clipsync/internal/httpserver/mw"
	"github.com/clipsync/clipsync/internal/logger"
)

type (
	Registrar func(r chi.Router, d deps.Deps)
	// Guard builds a middleware once deps are known. Registration happens in
	// init(), before the logger or the verifier exist.
	Guard func(d deps.Deps) func(http.Handler) http.Handler
)

type group struct {
	name   string
	reg    Registrar
	guards []Guard
}

var groups []group

// Register adds a named route group guarded by the given middlewares.
func Register(name string, reg Registrar, guards ...Guard) {
	groups = append(groups, group{name: name, reg: reg, guards: guards})
}

// Called once from httpserver.NewRouter.
func RegisterAll(r chi.Router, d deps.Deps) {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.name)
		if len(g.guards) == 0 {
			g.reg(r, d)
			continue
		}
		mws := make([]func(http.Handler) http.Handler, 0, len(g.guards))
		for _, guard := range g.guards {
			mws = append(mws, guard(d))
		}
		g.reg(r.With(mws...), d)
	}
	sort.Strings(names)
	d.Logger.Debug("route groups mounted", logger.Strings("groups", names))
}

func restrictCIDRs(d deps.Deps) func(http.Handler) http.Handler {
	return mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger)
}

func restrictHosts(d deps.Deps) func(http.Handler) http.Handler {
	return mw.EnforceHost(d.AllowedHosts, d.Logger)
}

func authenticate(d deps.Deps) func(http.Handler) http.Handler {
	return mw.Authenticate(d.Verifier, d.Logger)
}
