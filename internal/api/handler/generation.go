package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/artgen_go_server/internal/api/middleware"
	"github.com/qs3c/artgen_go_server/internal/model/dto"
	"github.com/qs3c/artgen_go_server/internal/pkg/response"
	"github.com/qs3c/artgen_go_server/internal/service"
)

type GenerationHandler struct {
	generationService *service.GenerationService
	creditService     *service.CreditService
}

func NewGenerationHandler(generationService *service.GenerationService, creditService *service.CreditService) *GenerationHandler {
	return &GenerationHandler{
		generationService: generationService,
		creditService:     creditService,
	}
}

// Create 创建生成任务（扣积分并入队）
// POST /api/v1/generations
func (h *GenerationHandler) Create(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	task, err := h.generationService.CreateTask(c.Request.Context(), service.CreateTaskParams{
		UserID:     userID,
		TaskType:   req.TaskType,
		Prompt:     req.Prompt,
		SourceURL:  req.SourceURL,
		Duration:   req.Duration,
		Resolution: req.Resolution,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInsufficientCredits):
			response.CreditsError(c, "")
		case errors.Is(err, service.ErrConcurrentLimitExceeded):
			response.ConcurrentLimitError(c, "")
		case errors.Is(err, service.ErrInvalidAmount):
			response.ParamError(c, "不支持的任务参数")
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.SuccessWithMessage(c, "任务已创建", dto.CreateTaskResponse{
		TaskID:     task.ID,
		Status:     task.Status,
		CreditCost: task.CreditCost,
		Remaining:  h.creditService.GetAvailableCredits(userID),
	})
}

// Get 查询单个任务
// GET /api/v1/generations/:id
func (h *GenerationHandler) Get(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	taskID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "无效的任务 ID")
		return
	}

	task, err := h.generationService.GetTask(userID, taskID)
	if err != nil {
		if errors.Is(err, service.ErrTaskNotFound) {
			response.NotFoundError(c, "")
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, task)
}

// List 任务列表（分页）
// GET /api/v1/generations?page=1&page_size=20
func (h *GenerationHandler) List(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	tasks, total, err := h.generationService.ListTasks(userID, page, pageSize)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessPage(c, total, page, pageSize, tasks)
}

// GetConcurrency 并发额度查询
// GET /api/v1/generations/concurrency
func (h *GenerationHandler) GetConcurrency(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	status, err := h.generationService.CheckConcurrentLimit(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.ConcurrencyInfo{
		CanCreate: status.CanCreate,
		Limit:     status.Limit,
		Current:   status.Current,
	})
}
