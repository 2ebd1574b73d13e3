package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"voltledger/internal/middleware"
)

func (s *Server) RegisterRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ipnSecretHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", s.register)
		r.Post("/register-admin", s.registerAdmin)
		r.Post("/login", s.login)
		r.Post("/signin", s.adminLogin)
		r.Post("/forgot-password", s.forgotPassword)
		r.Post("/reset-password", s.resetPassword)
	})

	r.Post("/api/mobilemoney/ipn", s.mobileMoneyIPN)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/ws", s.serveWS)

		r.Get("/api/users/my-team", s.myTeam)
		r.With(s.auth.OwnerOrAdmin).Get("/api/users/{id}/balance", s.getUserBalance)
		r.With(s.auth.AdminOnly).Post("/api/users/{id}/update-balance", s.updateBalance)

		r.Get("/api/mobilemoney/status/{reference}", s.paymentStatus)

		r.Get("/api/daily-tasks", s.getDailyTasks)
		r.Post("/api/daily-tasks/{id}/complete", s.completeTask)
		r.Get("/api/earnings", s.getEarnings)

		r.Route("/api/transactions", func(r chi.Router) {
			r.Get("/", s.listTransactions)
			r.Post("/deposit", s.requestDeposit)
			r.Post("/withdraw-request", s.requestWithdrawal)
			r.With(s.auth.AdminOnly).Post("/task", s.creditTaskReward)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(s.auth.AdminOnly)

			r.Get("/users", s.listUsers)
			r.Delete("/users/{id}", s.deleteUser)
			r.Post("/users/{id}/block", s.blockUser)
			r.Post("/users/{id}/unblock", s.unblockUser)
			r.Post("/users/{id}/commission", s.creditCommission)

			r.Get("/reset-tokens", s.listResetTokens)
			r.Delete("/reset-tokens/{id}", s.clearResetToken)

			r.Get("/deposits/pending", s.pendingDeposits)
			r.Post("/deposits/{id}/approve", s.approveDeposit)
			r.Post("/deposits/{id}/reject", s.rejectDeposit)

			r.Get("/withdrawals/pending", s.pendingWithdrawals)
			r.Post("/withdrawals/{id}/approve", s.approveWithdrawal)
			r.Post("/withdrawals/{id}/reject", s.rejectWithdrawal)

			r.Post("/daily-tasks/reset", s.resetDailyTasks)
		})
	})

	return r
}
