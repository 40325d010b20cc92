// ABOUTME: Route table for the larder HTTP API
// ABOUTME: Ceremony routes are rate limited; inventory routes require a session

package server

import "net/http"

func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)
	if s.config.Metrics.Enabled {
		mux.Handle("GET "+s.config.Metrics.Path, s.metrics.Handler())
	}

	// Ceremonies
	mux.HandleFunc("POST /auth/register/start", s.rateLimited(s.handleRegisterStart))
	mux.HandleFunc("POST /auth/register/finish", s.rateLimited(s.handleRegisterFinish))
	mux.HandleFunc("POST /auth/login/start", s.rateLimited(s.handleLoginStart))
	mux.HandleFunc("POST /auth/login/finish", s.rateLimited(s.handleLoginFinish))
	mux.HandleFunc("GET /auth/me", s.handleMe)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	// Inventories
	authed := s.middleware.RequireSession
	mux.Handle("GET /inventories", authed(http.HandlerFunc(s.handleListInventories)))
	mux.Handle("POST /inventories", authed(http.HandlerFunc(s.handleCreateInventory)))
	mux.Handle("GET /inventories/{id}", authed(http.HandlerFunc(s.handleGetInventory)))
	mux.Handle("DELETE /inventories/{id}", authed(http.HandlerFunc(s.handleDeleteInventory)))
	mux.Handle("POST /inventories/{id}/members", authed(http.HandlerFunc(s.handleAddMember)))
	mux.Handle("DELETE /inventories/{id}/members/{uid}", authed(http.HandlerFunc(s.handleRemoveMember)))
	mux.Handle("POST /inventories/{id}/sync-ticket", authed(http.HandlerFunc(s.handleSyncTicket)))

	// Document sync authorizes itself: cookie or ticket
	mux.HandleFunc("GET /sync/{id}", s.handleSync)
}
