package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/artgen_go_server/internal/pkg/response"
	"github.com/qs3c/artgen_go_server/internal/service"
)

// CreditsCheck 积分预检中间件。只做余额非零的快速拒绝，
// 真正的扣费由创建任务时的原子消费完成。
func CreditsCheck(creditService *service.CreditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		if creditService.GetAvailableCredits(userID) <= 0 {
			response.CreditsError(c, "积分不足，请充值或升级套餐")
			c.Abort()
			return
		}

		c.Next()
	}
}
