package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	apperrors "github.com/acaderofficial-code/acader-backend-sub000/common/errors"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/config"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/finlog"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/fraud"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/jobs"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/payment"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/reconciliation"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/webhook"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/withdrawal"
)

// Server wires the HTTP surface: the payment and withdrawal APIs, the
// operator endpoints, and the provider webhook boundary.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	payments       payment.PaymentService
	withdrawals    withdrawal.WithdrawalService
	ledger         ledger.LedgerService
	fraud          *fraud.Service
	finlog         finlog.FinlogService
	reconciliation reconciliation.ReconciliationService
	scheduler      *jobs.Scheduler
	webhooks       *webhook.Handler

	http *http.Server
}

// Deps bundles the service dependencies of the server.
type Deps struct {
	Payments       payment.PaymentService
	Withdrawals    withdrawal.WithdrawalService
	Ledger         ledger.LedgerService
	Fraud          *fraud.Service
	Finlog         finlog.FinlogService
	Reconciliation reconciliation.ReconciliationService
	Scheduler      *jobs.Scheduler
	Webhooks       *webhook.Handler
}

// New creates the server and builds its router.
func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	s := &Server{
		cfg:            cfg,
		logger:         logger,
		payments:       deps.Payments,
		withdrawals:    deps.Withdrawals,
		ledger:         deps.Ledger,
		fraud:          deps.Fraud,
		finlog:         deps.Finlog,
		reconciliation: deps.Reconciliation,
		scheduler:      deps.Scheduler,
		webhooks:       deps.Webhooks,
	}

	s.http = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Router creates the HTTP router.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(requestID())
	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))
	r.Use(cors.Default())
	r.Use(apperrors.UnifiedErrorMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.webhooks.Register(r)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/payments", s.createPayment)
		v1.GET("/payments", s.listPayments)
		v1.GET("/payments/:id", s.getPayment)
		v1.POST("/payments/:id/release", s.releasePayment)
		v1.POST("/payments/:id/refund", s.refundPayment)
		v1.POST("/payments/:id/retry-transfer", s.retryTransfer)
		v1.POST("/payments/:id/disputes", s.openDispute)
		v1.POST("/disputes/:id/resolve", s.resolveDispute)

		v1.POST("/withdrawals", s.requestWithdrawal)
		v1.GET("/withdrawals", s.listWithdrawals)
		v1.GET("/withdrawals/:id", s.getWithdrawal)

		v1.GET("/wallets/:user_id/balance", s.walletBalance)

		admin := v1.Group("/admin")
		{
			admin.GET("/ledger/entries", s.ledgerReport)

			admin.GET("/reconciliation/logs", s.reconciliationLogs)
			admin.GET("/reconciliation/flags", s.reconciliationFlags)
			admin.POST("/reconciliation/flags/:id/resolve", s.resolveReconciliationFlag)
			admin.POST("/reconciliation/run", s.runReconciliation)
			admin.POST("/reconciliation/run/:user_id", s.runReconciliationForUser)

			admin.GET("/fraud/reviews", s.listReviews)
			admin.POST("/fraud/reviews/:id/approve", s.approveReview)
			admin.POST("/fraud/reviews/:id/reject", s.rejectReview)
			admin.GET("/fraud/users/:user_id/profile", s.riskProfile)
			admin.GET("/fraud/users/:user_id/assessments", s.riskAuditTrail)
			admin.POST("/fraud/restrictions", s.restrictWallet)
			admin.DELETE("/fraud/restrictions/:user_id", s.liftRestriction)

			admin.GET("/finlog", s.listFinlog)
			admin.POST("/finlog/verify", s.verifyFinlog)

			admin.GET("/jobs", s.listJobs)
			admin.POST("/jobs/:name/run", s.runJob)
		}
	}
	return r
}

// Start runs the HTTP listener until the context is cancelled, then
// shuts down gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.logger.Info("http server listening", zap.String("addr", s.http.Addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// requestID tags every request with a correlation id, honoring one
// supplied by the caller.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("trace_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// fail converts a domain error into its RFC 7807 rendering.
func (s *Server) fail(c *gin.Context, err error) {
	instance := c.Request.URL.Path

	var problem *apperrors.ProblemDetails
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		problem = apperrors.NewNotFoundError(err.Error(), instance)
	case errors.Is(err, payment.ErrIllegalTransition),
		errors.Is(err, withdrawal.ErrIllegalState),
		errors.Is(err, ledger.ErrInvalidEntry):
		problem = apperrors.NewIllegalTransitionError(err.Error(), instance)
	case errors.Is(err, payment.ErrDisputedLocked):
		problem = apperrors.NewDisputedLockError(err.Error(), instance)
	case errors.Is(err, withdrawal.ErrInsufficientFunds):
		problem = apperrors.NewInsufficientFundsError(err.Error(), instance)
	case errors.Is(err, withdrawal.ErrWalletRestricted):
		problem = apperrors.NewWalletRestrictedError(err.Error(), instance)
	case errors.Is(err, payment.ErrOpenDispute),
		errors.Is(err, payment.ErrNoOpenDispute),
		errors.Is(err, fraud.ErrReviewNotPending),
		errors.Is(err, reconciliation.ErrFlagNotOpen):
		problem = apperrors.NewConflictError(err.Error(), instance)
	case errors.Is(err, ledger.ErrCorruption),
		errors.Is(err, payment.ErrMissingRecipient),
		errors.Is(err, payment.ErrStaleTransition),
		errors.Is(err, withdrawal.ErrStaleWithdrawal):
		s.logger.Error("integrity error", zap.String("path", instance), zap.Error(err))
		problem = apperrors.NewInternalError("internal integrity failure", instance)
	default:
		problem = apperrors.NewValidationError(err.Error(), instance)
	}

	apperrors.HandleError(c, problem)
}
