package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)

	// Live channel; long-lived, so outside the request timeout
	r.With(s.authMiddleware).Get("/ws", s.HandleWebSocket)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
		r.Use(s.authMiddleware)

		// Bookings
		r.Route("/bookings", func(r chi.Router) {
			r.Get("/", s.HandleListBookings)
			r.Post("/", s.HandleCreateBooking)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/accept", s.HandleAcceptBooking)
				r.Post("/reject", s.HandleRejectBooking)
			})
		})

		// Leases
		r.Route("/leases/{id}", func(r chi.Router) {
			r.Get("/", s.HandleGetLease)
			r.Post("/terminate", s.HandleTerminateLease)
		})

		// Notifications
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.HandleListNotifications)
			r.Get("/sent", s.HandleListSentNotifications)
			r.Put("/read-all", s.HandleMarkAllNotificationsRead)
			r.Route("/{id}", func(r chi.Router) {
				r.Put("/read", s.HandleMarkNotificationRead)
				r.With(s.adminOnly).Delete("/", s.HandleDeleteNotification)
			})
		})

		// Chats
		r.Route("/chats/{chatId}/messages", func(r chi.Router) {
			r.Get("/", s.HandleListChatMessages)
			r.Post("/", s.HandleSendChatMessage)
		})

		// Reviews
		r.Post("/reviews", s.HandleCreateReview)
	})
}
