package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/NxTech4021/dl-backend-sub004/handlers"
	"github.com/NxTech4021/dl-backend-sub004/middleware"
)

type Handlers struct {
	Match     *handlers.MatchHandler
	Rating    *handlers.RatingHandler
	Recalc    *handlers.RecalculationHandler
	Dispute   *handlers.DisputeHandler
	WebSocket *handlers.WebSocketHandler
}

func InitRoutes(h Handlers, jwtSecret string, allowedOrigins []string) *chi.Mux {
	router := chi.NewRouter()

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	router.Route("/matches", func(r chi.Router) {
		// Публичные маршруты для просмотра
		r.Get("/{matchID}", h.Match.GetMatch)
		r.Get("/{matchID}/rating-history", h.Rating.GetMatchHistory)

		// Переходы жизненного цикла доступны только участникам
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(jwtSecret))

			r.Post("/{matchID}/result", h.Match.SubmitResult)
			r.Post("/{matchID}/confirm", h.Match.ConfirmResult)
			r.Post("/{matchID}/walkover", h.Match.SubmitWalkover)
			r.Post("/{matchID}/cancel", h.Match.CancelMatch)
			r.Post("/{matchID}/unfinished", h.Match.MarkUnfinished)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(jwtSecret))
			r.Use(middleware.Authorize(middleware.RoleAdmin))

			r.Post("/{matchID}/dispute/resolve", h.Dispute.Resolve)
		})
	})

	router.Route("/ratings", func(r chi.Router) {
		r.Get("/players/{playerID}", h.Rating.GetPlayerRating)
		r.Get("/players/{playerID}/history", h.Rating.GetPlayerHistory)
		r.Get("/leaderboard", h.Rating.Leaderboard)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(jwtSecret))
			r.Use(middleware.Authorize(middleware.RoleAdmin))

			r.Post("/players/{playerID}/adjust", h.Rating.Adjust)
		})
	})

	router.Route("/recalculations", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret))
		r.Use(middleware.Authorize(middleware.RoleAdmin))

		r.Post("/", h.Recalc.Request)
		r.Get("/{recalcID}", h.Recalc.Get)
		r.Post("/{recalcID}/apply", h.Recalc.Apply)
		r.Post("/{recalcID}/cancel", h.Recalc.Cancel)
	})

	router.Route("/disputes", func(r chi.Router) {
		r.Use(middleware.Authenticate(jwtSecret))
		r.Use(middleware.Authorize(middleware.RoleAdmin))

		r.Get("/", h.Dispute.ListOpen)
	})

	router.Get("/ws/{scopeType}/{scopeID}", h.WebSocket.ServeWs)

	return router
}
