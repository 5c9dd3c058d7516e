package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/artgen_go_server/internal/api/middleware"
	"github.com/qs3c/artgen_go_server/internal/model/dto"
	"github.com/qs3c/artgen_go_server/internal/pkg/response"
	"github.com/qs3c/artgen_go_server/internal/service"
)

type CreditHandler struct {
	creditService *service.CreditService
}

func NewCreditHandler(creditService *service.CreditService) *CreditHandler {
	return &CreditHandler{
		creditService: creditService,
	}
}

// GetBalance 获取可用积分余额
// GET /api/v1/credits/balance
func (h *CreditHandler) GetBalance(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	response.Success(c, dto.BalanceResponse{
		Credits: h.creditService.GetAvailableCredits(userID),
	})
}

// ListTransactions 积分流水（分页，可按类型过滤）
// GET /api/v1/credits/transactions?type=consumption&page=1&page_size=20
func (h *CreditHandler) ListTransactions(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.TransactionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	txs, total, err := h.creditService.GetTransactions(userID, req.Type, req.Page, req.PageSize)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, req.Page, req.PageSize, txs)
}

// GetExpiring 30 天内即将过期的积分
// GET /api/v1/credits/expiring
func (h *CreditHandler) GetExpiring(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	grants, err := h.creditService.GetExpiringSoon(userID, 30*24*time.Hour)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	items := make([]dto.ExpiringCreditsItem, 0, len(grants))
	for _, g := range grants {
		items = append(items, dto.ExpiringCreditsItem{
			TransactionID: g.ID,
			Remaining:     g.RemainingAmount,
			ExpiresAt:     g.ExpiresAt.Format(time.RFC3339),
		})
	}

	response.Success(c, items)
}
