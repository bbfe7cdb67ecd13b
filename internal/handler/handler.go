package handler

import (
	"strconv"
	"time"

	"accountanalytics/internal/model"
	"accountanalytics/internal/service"
	"accountanalytics/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const defaultListLimit = 50

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	queryService *service.QueryService
}

// NewHandler 创建处理器实例
func NewHandler(queryService *service.QueryService) *Handler {
	return &Handler{queryService: queryService}
}

// ============================================================
// 点查接口
// ============================================================

// GetAnalytics 查询单个账户的聚合分析
// GET /api/v1/analytics/:account_id
func (h *Handler) GetAnalytics(c *gin.Context) {
	accountID := c.Param("account_id")
	if accountID == "" {
		response.ParamError(c, "account_id 不能为空")
		return
	}

	a, err := h.queryService.GetByAccountID(c.Request.Context(), accountID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	if a == nil {
		response.BusinessError(c, response.CodeAnalyticsNotFound, "账户分析不存在")
		return
	}

	response.Success(c, a)
}

// ============================================================
// 条件查询接口
// ============================================================

// ListByBalance 余额范围查询
// GET /api/v1/analytics/balance?min=xx&max=xx&limit=50
func (h *Handler) ListByBalance(c *gin.Context) {
	min, err := decimal.NewFromString(c.DefaultQuery("min", "0"))
	if err != nil {
		response.ParamError(c, "min 参数错误")
		return
	}
	max, err := decimal.NewFromString(c.DefaultQuery("max", "0"))
	if err != nil {
		response.ParamError(c, "max 参数错误")
		return
	}
	if max.LessThan(min) {
		response.ParamError(c, "max 不能小于 min")
		return
	}

	result, err := h.queryService.ListByBalanceRange(c.Request.Context(), min, max, parseLimit(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// ListByVolatility 波动率范围查询
// GET /api/v1/analytics/volatility?min=xx&max=xx&limit=50
func (h *Handler) ListByVolatility(c *gin.Context) {
	min, err := decimal.NewFromString(c.DefaultQuery("min", "0"))
	if err != nil {
		response.ParamError(c, "min 参数错误")
		return
	}
	max, err := decimal.NewFromString(c.DefaultQuery("max", "0"))
	if err != nil {
		response.ParamError(c, "max 参数错误")
		return
	}

	result, err := h.queryService.ListByVolatilityRange(c.Request.Context(), min, max, parseLimit(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// ListByPattern 按消费模式查询
// GET /api/v1/analytics/pattern?pattern=VOLATILE&min_balance=xx&limit=50
func (h *Handler) ListByPattern(c *gin.Context) {
	pattern := c.Query("pattern")
	if pattern == "" {
		response.ParamError(c, "pattern 不能为空")
		return
	}

	var minBalance *decimal.Decimal
	if raw := c.Query("min_balance"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			response.ParamError(c, "min_balance 参数错误")
			return
		}
		minBalance = &v
	}

	result, err := h.queryService.ListByPattern(c.Request.Context(), pattern, minBalance, parseLimit(c))
	if err != nil {
		if model.IsValidation(err) {
			response.ParamError(c, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// ListByCategory 按主要消费类别查询
// GET /api/v1/analytics/category?category=xx&limit=50
func (h *Handler) ListByCategory(c *gin.Context) {
	category := c.Query("category")
	if category == "" {
		response.ParamError(c, "category 不能为空")
		return
	}

	result, err := h.queryService.ListByCategory(c.Request.Context(), category, parseLimit(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// ListRecent 近期更新查询
// GET /api/v1/analytics/recent?since=RFC3339&limit=50
func (h *Handler) ListRecent(c *gin.Context) {
	since, err := time.Parse(time.RFC3339, c.Query("since"))
	if err != nil {
		response.ParamError(c, "since 参数必须是 RFC3339 时间")
		return
	}

	result, err := h.queryService.ListUpdatedSince(c.Request.Context(), since, parseLimit(c))
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, result)
}

// ============================================================
// 运维接口
// ============================================================

// RepairCache 强制重灌某账户的缓存
// POST /api/v1/admin/cache/repair?account_id=xx
func (h *Handler) RepairCache(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		response.ParamError(c, "account_id 不能为空")
		return
	}

	if err := h.queryService.RepairCache(c.Request.Context(), accountID); err != nil {
		response.BusinessError(c, response.CodeCacheRepairFailed, err.Error())
		return
	}

	response.Success(c, gin.H{"account_id": accountID})
}

func parseLimit(c *gin.Context) int64 {
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)), 10, 64)
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
