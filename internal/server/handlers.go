package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/acaderofficial-code/acader-backend-sub000/common/errors"
	"github.com/acaderofficial-code/acader-backend-sub000/internal/payment"
	"github.com/acaderofficial-code/acader-backend-sub000/pkg/models"
)

type createPaymentRequest struct {
	PayerID     string `json:"payer_id" binding:"required,uuid"`
	CompanyID   string `json:"company_id" binding:"required,uuid"`
	ProjectID   string `json:"project_id" binding:"required,uuid"`
	Amount      string `json:"amount" binding:"required"`
	ProviderRef string `json:"provider_ref" binding:"required"`
}

func (s *Server) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError("invalid amount", c.Request.URL.Path))
		return
	}

	p := &models.Payment{
		PayerID:     uuid.MustParse(req.PayerID),
		CompanyID:   uuid.MustParse(req.CompanyID),
		ProjectID:   uuid.MustParse(req.ProjectID),
		Amount:      amount,
		ProviderRef: req.ProviderRef,
	}
	if err := s.payments.Create(c.Request.Context(), p); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (s *Server) getPayment(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	p, err := s.payments.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) listPayments(c *gin.Context) {
	filter := payment.ListFilter{
		Status: models.PaymentStatus(c.Query("status")),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	if v := c.Query("company_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("invalid company_id", c.Request.URL.Path))
			return
		}
		filter.CompanyID = &id
	}
	if v := c.Query("student_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("invalid student_id", c.Request.URL.Path))
			return
		}
		filter.StudentID = &id
	}
	if v := c.Query("project_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("invalid project_id", c.Request.URL.Path))
			return
		}
		filter.ProjectID = &id
	}

	payments, total, err := s.payments.List(c.Request.Context(), filter)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments, "total": total})
}

func (s *Server) releasePayment(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	p, err := s.payments.Release(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) refundPayment(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	p, err := s.payments.Refund(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) retryTransfer(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	p, err := s.payments.RetryTransfer(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type openDisputeRequest struct {
	RaisedBy string `json:"raised_by" binding:"required,uuid"`
	Reason   string `json:"reason" binding:"required,max=500"`
}

func (s *Server) openDispute(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req openDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}

	dispute, err := s.payments.OpenDispute(c.Request.Context(), id, uuid.MustParse(req.RaisedBy), req.Reason)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, dispute)
}

type resolveDisputeRequest struct {
	Outcome    string `json:"outcome" binding:"required,oneof=released refunded"`
	AdminID    string `json:"admin_id" binding:"required,uuid"`
	Resolution string `json:"resolution" binding:"omitempty,max=500"`
}

func (s *Server) resolveDispute(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req resolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}

	p, err := s.payments.ResolveDispute(c.Request.Context(), id,
		uuid.MustParse(req.AdminID), models.PaymentStatus(req.Outcome), req.Resolution)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type withdrawalRequest struct {
	UserID        string `json:"user_id" binding:"required,uuid"`
	Amount        string `json:"amount" binding:"required"`
	BankName      string `json:"bank_name" binding:"required,max=100"`
	AccountHolder string `json:"account_holder" binding:"required,max=100"`
	IBAN          string `json:"iban" binding:"required,max=34"`
}

func (s *Server) requestWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError("invalid amount", c.Request.URL.Path))
		return
	}

	w := &models.Withdrawal{
		UserID:        uuid.MustParse(req.UserID),
		Amount:        amount,
		BankName:      req.BankName,
		AccountHolder: req.AccountHolder,
		IBAN:          req.IBAN,
	}
	eval, err := s.withdrawals.Request(c.Request.Context(), w)
	if err != nil {
		s.fail(c, err)
		return
	}

	if w.Status == models.WithdrawalPendingReview {
		c.JSON(http.StatusAccepted, gin.H{
			"withdrawal": w,
			"review":     eval.Reasons,
		})
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (s *Server) getWithdrawal(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	w, err := s.withdrawals.Get(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

func (s *Server) listWithdrawals(c *gin.Context) {
	var userID *uuid.UUID
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			apperrors.HandleError(c, apperrors.NewValidationError("invalid user_id", c.Request.URL.Path))
			return
		}
		userID = &id
	}

	withdrawals, total, err := s.withdrawals.List(c.Request.Context(), userID,
		models.WithdrawalStatus(c.Query("status")), queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": withdrawals, "total": total})
}

// walletBalance reports the ledger-derived balances per bucket. Always
// computed from the ledger, never from the cache.
func (s *Server) walletBalance(c *gin.Context) {
	userID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}

	balances := gin.H{}
	for _, bt := range []models.BalanceType{
		models.BalanceAvailable, models.BalanceEscrow,
		models.BalanceLocked, models.BalancePayout,
	} {
		total, err := s.ledger.GetBalance(c.Request.Context(), &userID, bt)
		if err != nil {
			s.fail(c, err)
			return
		}
		balances[string(bt)] = total.StringFixed(2)
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "balances": balances})
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		apperrors.HandleError(c, apperrors.NewValidationError("invalid "+name, c.Request.URL.Path))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) int {
	v, _ := strconv.Atoi(c.Query(name))
	return v
}
