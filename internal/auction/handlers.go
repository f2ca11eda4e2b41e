package auction

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gridpool/market-core/internal/types"
	"github.com/gridpool/market-core/pkg/response"
)

// GinHandlers contains HTTP handlers for the wholesale market endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type submitOrderRequest struct {
	Timeslot   int      `json:"timeslot" binding:"required"`
	MWh        float64  `json:"mwh" binding:"required"`
	LimitPrice *float64 `json:"limit_price"`
}

// SubmitOrderHandler handles POST requests to submit orders. The broker
// identity comes from the authenticated JWT, never from the request body.
func (h *GinHandlers) SubmitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		broker := c.GetString("brokerID")
		if broker == "" {
			response.Unauthorized(c, "Broker identity missing")
			return
		}

		var req submitOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		resp, err := h.service.SubmitOrder(types.Order{
			Broker:     broker,
			Timeslot:   req.Timeslot,
			MWh:        req.MWh,
			LimitPrice: req.LimitPrice,
		})
		if errors.Is(err, ErrOrderRejected) {
			response.BadRequest(c, err.Error())
			return
		}
		response.Handle(c, resp, err)
	}
}

// OrderbookHandler handles GET requests for the latest published orderbook
// of a timeslot.
// URL parameter: timeslot
func (h *GinHandlers) OrderbookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		serial, err := strconv.Atoi(c.Param("timeslot"))
		if err != nil {
			response.BadRequest(c, "Invalid timeslot")
			return
		}
		if h.service.db == nil {
			response.NotFound(c, "No orderbook published")
			return
		}
		book, err := h.service.db.GetLatestOrderbook(serial)
		response.Handle(c, book, err)
	}
}

// TradesHandler handles GET requests for the cleared trades of a timeslot.
// URL parameter: timeslot
func (h *GinHandlers) TradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		serial, err := strconv.Atoi(c.Param("timeslot"))
		if err != nil {
			response.BadRequest(c, "Invalid timeslot")
			return
		}
		if h.service.db == nil {
			response.Success(c, []TradeRecord{})
			return
		}
		trades, err := h.service.db.GetTradesByTimeslot(serial)
		response.Handle(c, trades, err)
	}
}
