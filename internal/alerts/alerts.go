package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/coinpeak/exchange-core/internal/auth"
	"github.com/coinpeak/exchange-core/internal/types"
	"github.com/coinpeak/exchange-core/pkg/response"
)

// Service is the price alert store and the alert management boundary.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// GetDB exposes the store to the evaluator.
func (s *Service) GetDB() *Database {
	return s.db
}

// AlertSpec is what a user provides to create an alert.
type AlertSpec struct {
	Symbol      string               `json:"symbol"`
	Condition   types.AlertCondition `json:"condition"`
	TargetPrice decimal.Decimal      `json:"target_price"`
}

// CreateAlert validates and persists a new active alert.
func (s *Service) CreateAlert(userID string, spec AlertSpec) (*types.PriceAlert, error) {
	if strings.TrimSpace(spec.Symbol) == "" {
		return nil, fmt.Errorf("symbol is required: %w", types.ErrInvalidAlertSpec)
	}
	if spec.Condition != types.ConditionAbove && spec.Condition != types.ConditionBelow {
		return nil, fmt.Errorf("condition must be ABOVE or BELOW: %w", types.ErrInvalidAlertSpec)
	}
	if !spec.TargetPrice.IsPositive() {
		return nil, fmt.Errorf("target price must be positive: %w", types.ErrInvalidAlertSpec)
	}

	now := time.Now()
	alert := &types.PriceAlert{
		AlertID:     uuid.New().String(),
		UserID:      userID,
		Symbol:      strings.ToUpper(spec.Symbol),
		Condition:   spec.Condition,
		TargetPrice: spec.TargetPrice,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.CreateAlert(alert); err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "alert_store").
		Str("alert_id", alert.AlertID).
		Str("symbol", alert.Symbol).
		Str("condition", string(alert.Condition)).
		Str("target_price", alert.TargetPrice.String()).
		Msg("alert created")
	return alert, nil
}

func (s *Service) ListAlerts(userID string) ([]types.PriceAlert, error) {
	return s.db.AlertsForUser(userID)
}

// ReactivateAlert rearms a single-shot alert after it has fired. Trigger
// history is cleared: the timestamp resets to null and the counter to zero.
func (s *Service) ReactivateAlert(alertID, userID string) (*types.PriceAlert, error) {
	return s.db.ReactivateAlert(alertID, userID)
}

func (s *Service) DeleteAlert(alertID, userID string) error {
	return s.db.DeleteAlert(alertID, userID)
}

// GinHandlers contains HTTP handlers for the alert management boundary.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// CreateAlertHandler handles POST /alerts.
func (h *GinHandlers) CreateAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		var spec AlertSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		alert, err := h.service.CreateAlert(userID, spec)
		response.Handle(c, alert, err)
	}
}

// ListAlertsHandler handles GET /alerts.
func (h *GinHandlers) ListAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		out, err := h.service.ListAlerts(userID)
		response.Handle(c, out, err)
	}
}

// ReactivateAlertHandler handles POST /alerts/:alert_id/reactivate.
func (h *GinHandlers) ReactivateAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		alert, err := h.service.ReactivateAlert(c.Param("alert_id"), userID)
		response.Handle(c, alert, err)
	}
}

// DeleteAlertHandler handles DELETE /alerts/:alert_id.
func (h *GinHandlers) DeleteAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := auth.UserIDFromContext(c)
		if userID == "" {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		if err := h.service.DeleteAlert(c.Param("alert_id"), userID); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"deleted": true})
	}
}
