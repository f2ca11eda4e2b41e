package accounting

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gridpool/market-core/internal/types"
	"github.com/gridpool/market-core/pkg/response"
)

// GinHandlers contains HTTP handlers for ledger queries.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// BrokerStatusHandler handles GET requests for a broker's cash balance and
// current-timeslot market position.
// URL parameter: username
func (h *GinHandlers) BrokerStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")

		broker, err := h.service.registry.FindBroker(username)
		if err != nil {
			response.NotFound(c, "Unknown broker")
			return
		}
		position, err := h.service.CurrentMarketPosition(username)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, types.BrokerStatusResponse{
			Broker:          username,
			CashBalance:     broker.CashBalance(),
			CurrentTimeslot: h.service.registry.CurrentTimeslot().Serial,
			MarketPosition:  position,
		})
	}
}

// TransactionsHandler handles GET requests for a broker's transaction audit
// trail. Query parameter: limit (default 50).
func (h *GinHandlers) TransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")

		if h.service.db == nil {
			response.Success(c, []TransactionRecord{})
			return
		}
		records, err := h.service.db.GetTransactionsByBroker(username, queryLimit(c))
		response.Handle(c, records, err)
	}
}

// CashHistoryHandler handles GET requests for a broker's settled cash
// snapshots, newest first. Query parameter: limit (default 50).
func (h *GinHandlers) CashHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		username := c.Param("username")

		if h.service.db == nil {
			response.Success(c, []CashPositionRecord{})
			return
		}
		records, err := h.service.db.GetCashHistory(username, queryLimit(c))
		response.Handle(c, records, err)
	}
}

func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 50
	}
	return limit
}
