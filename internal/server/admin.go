package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/acaderofficial-code/acader-backend-sub000/common/errors"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/ledger"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

func (s *Server) ledgerReport(c *gin.Context) {
	filter := ledger.ReportFilter{
		BalanceType: models.BalanceType(c.Query("balance_type")),
		Type:        c.Query("type"),
		Reference:   c.Query("reference"),
		Limit:       queryInt(c, "limit"),
		Offset:      queryInt(c, "offset"),
	}
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("invalid user_id", c.Request.URL.Path))
			return
		}
		filter.UserID = &id
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("invalid from timestamp", c.Request.URL.Path))
			return
		}
		filter.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("invalid to timestamp", c.Request.URL.Path))
			return
		}
		filter.To = &t
	}

	entries, total, err := s.ledger.EntriesReport(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

func (s *Server) reconciliationLogs(c *gin.Context) {
	logs, total, err := s.reconciliation.ListLogs(c.Request.Context(),
		c.Query("mismatch") == "true", queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "total": total})
}

func (s *Server) reconciliationFlags(c *gin.Context) {
	flags, total, err := s.reconciliation.ListFlags(c.Request.Context(),
		c.Query("open") == "true", queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flags": flags, "total": total})
}

type adminActionRequest struct {
	AdminID string `json:"admin_id" binding:"required,uuid"`
	Note    string `json:"note" binding:"omitempty,max=1000"`
}

func (s *Server) resolveReconciliationFlag(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req adminActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}

	if err := s.reconciliation.ResolveFlag(c.Request.Context(), id, uuid.MustParse(req.AdminID)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}

func (s *Server) runReconciliation(c *gin.Context) {
	summary, err := s.reconciliation.Run(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) runReconciliationForUser(c *gin.Context) {
	userID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}
	entry, err := s.reconciliation.RunForUser(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) listReviews(c *gin.Context) {
	reviews, total, err := s.fraud.ListReviews(c.Request.Context(),
		models.ReviewStatus(c.Query("status")), queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews, "total": total})
}

func (s *Server) approveReview(c *gin.Context) {
	s.resolveReview(c, true)
}

func (s *Server) rejectReview(c *gin.Context) {
	s.resolveReview(c, false)
}

// resolveReview closes the review and, when it gates a withdrawal,
// drives the withdrawal onto its approved or rejected path.
func (s *Server) resolveReview(c *gin.Context, approve bool) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req adminActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}
	adminID := uuid.MustParse(req.AdminID)

	review, err := s.fraud.ResolveReview(c.Request.Context(), id, adminID, approve, req.Note)
	if err != nil {
		s.fail(c, err)
		return
	}

	if review.WithdrawalID != nil {
		if approve {
			_, err = s.withdrawals.ApproveReviewed(c.Request.Context(), *review.WithdrawalID, adminID, req.Note)
		} else {
			_, err = s.withdrawals.RejectReviewed(c.Request.Context(), *review.WithdrawalID, adminID, req.Note)
		}
		if err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, review)
}

func (s *Server) riskProfile(c *gin.Context) {
	userID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}
	profile, err := s.fraud.ComputeProfile(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

func (s *Server) riskAuditTrail(c *gin.Context) {
	userID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}
	assessments, total, err := s.fraud.RiskAuditTrail(c.Request.Context(), userID,
		queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assessments": assessments, "total": total})
}

type restrictWalletRequest struct {
	UserID  string `json:"user_id" binding:"required,uuid"`
	Reason  string `json:"reason" binding:"required,max=500"`
	AdminID string `json:"admin_id" binding:"required,uuid"`
}

func (s *Server) restrictWallet(c *gin.Context) {
	var req restrictWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}
	adminID := uuid.MustParse(req.AdminID)

	if err := s.fraud.RestrictWallet(c.Request.Context(), uuid.MustParse(req.UserID), req.Reason, &adminID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"restricted": true})
}

func (s *Server) liftRestriction(c *gin.Context) {
	userID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}
	if err := s.fraud.LiftRestriction(c.Request.Context(), userID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"restricted": false})
}

func (s *Server) listFinlog(c *gin.Context) {
	entries, total, err := s.finlog.List(c.Request.Context(), queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": total})
}

func (s *Server) verifyFinlog(c *gin.Context) {
	result, err := s.finlog.Verify(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	status := http.StatusOK
	if !result.Valid {
		status = http.StatusConflict
	}
	c.JSON(status, result)
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.scheduler.Jobs()})
}

func (s *Server) runJob(c *gin.Context) {
	if err := s.scheduler.RunNow(c.Request.Context(), c.Param("name")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ran": true})
}
