package router

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"github.com/hertz-contrib/keyauth"
	"go.opentelemetry.io/otel/trace"
)

// RegisterRoutes 注册API路由。
// apiKeys 非空时所有写操作路由要求 Bearer API Key。
func RegisterRoutes(h *server.Hertz, jobHandler *handler.JobHandler, resumeHandler *handler.ResumeHandler, apiKeys []string) {
	h.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	api := h.Group("/api/v1", requestID())

	// 只有写操作路由走鉴权，排行查询保持开放
	auth := passthrough()
	if len(apiKeys) > 0 {
		auth = apiKeyAuth(apiKeys)
	}

	api.POST("/jobs", auth, func(c context.Context, ctx *app.RequestContext) {
		var req struct {
			JobTitle string `json:"job_title"`
			JDText   string `json:"jd_text"`
		}
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法JSON"})
			return
		}
		if req.JobTitle == "" || req.JDText == "" {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "job_title 和 jd_text 不能为空"})
			return
		}

		resp, err := jobHandler.HandleCreateJob(c, req.JobTitle, req.JDText)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.POST("/resumes", auth, func(c context.Context, ctx *app.RequestContext) {
		fileHeader, err := ctx.FormFile("file")
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
			return
		}
		defer file.Close()

		fileBytes, err := io.ReadAll(file)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "读取文件失败"})
			return
		}

		resp, err := resumeHandler.HandleResumeUpload(c, fileBytes, fileHeader.Filename)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.POST("/jobs/:job_id/scores", auth, func(c context.Context, ctx *app.RequestContext) {
		jobID := ctx.Param("job_id")
		if jobID == "" {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "job_id 不能为空"})
			return
		}

		resp, err := jobHandler.HandleScoreJob(c, jobID)
		if err != nil {
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.GET("/jobs/:job_id/scores", func(c context.Context, ctx *app.RequestContext) {
		jobID := ctx.Param("job_id")
		limit := 0
		if raw := ctx.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		resp, err := jobHandler.HandleListScores(c, jobID, limit)
		if err != nil {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})
}

// passthrough 未配置API Key时的空中间件
func passthrough() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		ctx.Next(c)
	}
}

// requestID 为每个请求生成追踪用的request_id并放进日志上下文，
// 响应出错时把状态码记到当前span上
func requestID() app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		id := uuid.NewString()
		ctx.Header("X-Request-ID", id)
		reqLogger := logger.Logger.With().Str("request_id", id).Logger()
		ctx.Next(reqLogger.WithContext(c))

		if status := ctx.Response.StatusCode(); status >= consts.StatusBadRequest {
			tracing.RecordHTTPError(trace.SpanFromContext(c),
				fmt.Errorf("%s %s 返回 %d", ctx.Method(), ctx.Path(), status), status)
		}
	}
}

// apiKeyAuth Bearer API Key 鉴权
func apiKeyAuth(apiKeys []string) app.HandlerFunc {
	allowed := make(map[string]bool, len(apiKeys))
	for _, k := range apiKeys {
		allowed[k] = true
	}

	return keyauth.New(
		keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
		keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
			return allowed[key], nil
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			ctx.JSON(consts.StatusUnauthorized, utils.H{"error": "无效的API Key"})
			ctx.Abort()
		}),
	)
}
