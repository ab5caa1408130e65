package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/doubles-registration/internal/model"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"github.com/richardliu001/doubles-registration/internal/repo"
	"github.com/richardliu001/doubles-registration/internal/service"
	"github.com/shopspring/decimal"
)

// Identity is resolved upstream; these headers carry it to the service.
const (
	headerUserID  = "X-User-ID"
	headerContact = "X-User-Contact"
	headerStaff   = "X-Staff"
)

func RegisterHandlers(r *gin.Engine, svc *service.PairingService) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/v1")
	{
		v1.POST("/pairings", registerHandler(svc))
		v1.GET("/pairings/:id", getPairingHandler(svc))
		v1.GET("/pairings/:id/status", statusHandler(svc))
		v1.POST("/pairings/:id/cancel", cancelHandler(svc))
		v1.POST("/pairings/:id/invite", inviteHandler(svc))
		v1.POST("/pairings/:id/decline", declineHandler(svc))
		v1.POST("/pairings/:id/swap", swapRequestHandler(svc))
		v1.POST("/pairings/:id/payments", paymentHandler(svc))
		v1.POST("/exchanges", exchangeHandler(svc))
		v1.POST("/invites/:token/accept", acceptHandler(svc))
		v1.POST("/swaps/:token/confirm", swapConfirmHandler(svc))
	}
}

func actorFrom(c *gin.Context) pairing.Actor {
	staff, _ := strconv.ParseBool(c.GetHeader(headerStaff))
	return pairing.Actor{
		UserID:  strings.TrimSpace(c.GetHeader(headerUserID)),
		Contact: c.GetHeader(headerContact),
		Staff:   staff,
	}
}

func pathID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

// writeError maps business error kinds to status codes; anything unclassified is a 500.
func writeError(c *gin.Context, err error) {
	var perr *pairing.Error
	switch {
	case errors.As(err, &perr):
		status := http.StatusBadRequest
		switch perr.Kind {
		case pairing.KindConflict:
			status = http.StatusConflict
		case pairing.KindNotFound:
			status = http.StatusNotFound
		case pairing.KindForbidden:
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": perr.Code})
	case errors.Is(err, repo.ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{"error": "CONCURRENT_MODIFICATION"})
	case errors.Is(err, service.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type slotView struct {
	Role          model.SlotRole          `json:"role"`
	Status        model.SlotStatus        `json:"status"`
	PaymentStatus model.SlotPaymentStatus `json:"payment_status"`
	ProfileID     *string                 `json:"profile_id,omitempty"`
	AmountPaid    decimal.Decimal         `json:"amount_paid"`
}

type pairingView struct {
	ID                 uint64                   `json:"id"`
	EventID            uint64                   `json:"event_id"`
	CategoryID         *uint64                  `json:"category_id,omitempty"`
	PaymentMode        model.PaymentMode        `json:"payment_mode"`
	JoinMode           model.JoinMode           `json:"join_mode"`
	RegistrationStatus model.RegistrationStatus `json:"registration_status"`
	LifecycleStatus    model.LifecycleStatus    `json:"lifecycle_status"`
	PairingStatus      model.PairingStatus      `json:"pairing_status"`
	CaptainUserID      string                   `json:"captain_user_id"`
	PartnerUserID      *string                  `json:"partner_user_id,omitempty"`
	DeadlineAt         *time.Time               `json:"deadline_at,omitempty"`
	SwapAllowedUntil   *time.Time               `json:"partner_swap_allowed_until_at,omitempty"`
	Version            uint64                   `json:"version"`
	Slots              []slotView               `json:"slots"`
}

func viewOf(p *model.Pairing) pairingView {
	v := pairingView{
		ID:                 p.ID,
		EventID:            p.EventID,
		CategoryID:         p.CategoryID,
		PaymentMode:        p.PaymentMode,
		JoinMode:           p.JoinMode,
		RegistrationStatus: p.RegistrationStatus,
		LifecycleStatus:    p.LifecycleStatus,
		PairingStatus:      p.PairingStatus,
		CaptainUserID:      p.CreatedByUserID,
		PartnerUserID:      p.PartnerUserID,
		DeadlineAt:         p.DeadlineAt,
		SwapAllowedUntil:   p.PartnerSwapAllowedUntilAt,
		Version:            p.Version,
	}
	for _, s := range p.Slots {
		v.Slots = append(v.Slots, slotView{
			Role: s.SlotRole, Status: s.SlotStatus, PaymentStatus: s.PaymentStatus,
			ProfileID: s.ProfileID, AmountPaid: s.AmountPaid,
		})
	}
	return v
}

type targetReq struct {
	UserID  string `json:"user_id"`
	Contact string `json:"contact"`
}

type registerReq struct {
	EventID       uint64     `json:"event_id" binding:"required"`
	CategoryID    *uint64    `json:"category_id"`
	PaymentMode   string     `json:"payment_mode" binding:"required"`
	Partner       *targetReq `json:"partner"`
	InviteMinutes *int       `json:"invite_minutes"`
}

func registerHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		in := service.RegisterRequest{
			EventID:       req.EventID,
			CategoryID:    req.CategoryID,
			PaymentMode:   model.PaymentMode(strings.ToUpper(req.PaymentMode)),
			InviteMinutes: req.InviteMinutes,
		}
		if req.Partner != nil {
			in.Partner = &service.InviteTarget{UserID: req.Partner.UserID, Contact: req.Partner.Contact}
		}
		p, err := svc.RegisterPairing(c, actorFrom(c), in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, viewOf(p))
	}
}

func getPairingHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		p, err := svc.GetPairing(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(p))
	}
}

func statusHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		snap, err := svc.GetStatus(c, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

// pairingAction covers the endpoints that take only the pairing id and the actor.
func pairingAction(op func(*gin.Context, uint64, pairing.Actor) (*model.Pairing, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		p, err := op(c, id, actorFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(p))
	}
}

func cancelHandler(svc *service.PairingService) gin.HandlerFunc {
	return pairingAction(func(c *gin.Context, id uint64, a pairing.Actor) (*model.Pairing, error) {
		return svc.CancelPairing(c, id, a)
	})
}

func declineHandler(svc *service.PairingService) gin.HandlerFunc {
	return pairingAction(func(c *gin.Context, id uint64, a pairing.Actor) (*model.Pairing, error) {
		return svc.DeclinePartnerInvite(c, id, a)
	})
}

type inviteReq struct {
	targetReq
	Minutes *int `json:"minutes"`
}

func inviteHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req inviteReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.InvitePartner(c, id, actorFrom(c), service.InviteRequest{
			Target:  service.InviteTarget{UserID: req.UserID, Contact: req.Contact},
			Minutes: req.Minutes,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pairing": viewOf(res.Pairing), "token": res.Token, "expires_at": res.ExpiresAt})
	}
}

func acceptHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.AcceptInvite(c, c.Param("token"), actorFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(p))
	}
}

func swapRequestHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		res, err := svc.RequestPartnerSwap(c, id, actorFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pairing": viewOf(res.Pairing), "token": res.Token, "expires_at": res.ExpiresAt})
	}
}

func swapConfirmHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := svc.ConfirmPartnerSwap(c, c.Param("token"), actorFrom(c))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(p))
	}
}

type exchangeReq struct {
	FirstPairingID  uint64 `json:"first_pairing_id" binding:"required"`
	SecondPairingID uint64 `json:"second_pairing_id" binding:"required"`
}

func exchangeHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req exchangeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ps, err := svc.ExchangePartners(c, actorFrom(c), req.FirstPairingID, req.SecondPairingID)
		if err != nil {
			writeError(c, err)
			return
		}
		out := make([]pairingView, 0, len(ps))
		for _, p := range ps {
			out = append(out, viewOf(p))
		}
		c.JSON(http.StatusOK, gin.H{"pairings": out})
	}
}

type paymentReq struct {
	SlotRole        string `json:"slot_role" binding:"required"`
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
	Paid            bool   `json:"paid"`
}

// paymentHandler receives the gateway's settled/not-settled reaction for a payment intent.
func paymentHandler(svc *service.PairingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c)
		if !ok {
			return
		}
		var req paymentReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		role := model.SlotRole(strings.ToUpper(req.SlotRole))
		if role != model.SlotCaptain && role != model.SlotPartner {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slot_role"})
			return
		}
		p, err := svc.RecordSlotPayment(c, service.PaymentRequest{
			PairingID: id, SlotRole: role, PaymentIntentID: req.PaymentIntentID, Amount: amt, Paid: req.Paid,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, viewOf(p))
	}
}
