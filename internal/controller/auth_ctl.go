package controller

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Akinlua/autods/internal/config"
	"github.com/Akinlua/autods/internal/middleware"
	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
	"github.com/Akinlua/autods/internal/service"
	"github.com/Akinlua/autods/pkg/utils"
)

// AuthController OAuth 授权与运维登录接口
type AuthController struct {
	ebayTokens  *service.TokenManager
	pendingRepo repository.PendingAuthRepository
	serverCfg   config.ServerConfig
}

func NewAuthController(ebayTokens *service.TokenManager, pendingRepo repository.PendingAuthRepository, serverCfg config.ServerConfig) *AuthController {
	return &AuthController{
		ebayTokens:  ebayTokens,
		pendingRepo: pendingRepo,
		serverCfg:   serverCfg,
	}
}

// Login 运维账号换取管理接口的访问 Token
// POST /api/auth/login
func (ctrl *AuthController) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username 和 password 必填"})
		return
	}

	if ctrl.serverCfg.AdminPassword == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "未配置运维账号，管理接口不可用"})
		return
	}
	if req.Username != ctrl.serverCfg.AdminUsername || req.Password != ctrl.serverCfg.AdminPassword {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "账号或密码错误"})
		return
	}

	token, err := middleware.GenerateAccessToken(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成 Token 失败", "detail": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// Authorize 发起 eBay 授权，返回同意页链接。
// 配了自动化账号时浏览器会自动走完，返回的链接也可人工打开。
// GET /api/oauth/authorize
func (ctrl *AuthController) Authorize(c *gin.Context) {
	url, err := ctrl.ebayTokens.StartAuthorization()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "发起授权失败",
			"detail": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorize_url": url,
		"message":       "打开链接完成授权，回调后 Token 会自动落库",
	})
}

// Callback eBay 授权回调。授权码一律落库，
// 等授权流程的轮询协程按 state 领走换 Token。
// 本地 state 登记表只用于标注归属服务：授权可能由另一个实例发起，
// 本进程没登记过的 state 也要收下，轮询方自己会按 state 匹配。
// GET /api/oauth/callback
func (ctrl *AuthController) Callback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		log.Printf("[Auth] 授权回调携带错误: %s (%s)", errParam, c.Query("error_description"))
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "授权被拒绝",
			"detail": errParam,
		})
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 code 或 state 参数"})
		return
	}

	svcName, ok := utils.LookupState(state)
	if !ok {
		log.Printf("[Auth] 回调 state [%s] 不在本进程登记表中，按 eBay 授权落库", state)
		svcName = model.ServiceEbay
	}

	pending := &model.PendingAuth{
		Service:           svcName,
		AuthorizationCode: code,
		State:             state,
	}
	if err := ctrl.pendingRepo.Create(c.Request.Context(), pending); err != nil {
		log.Printf("[Auth] 授权码落库失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "授权码保存失败"})
		return
	}

	log.Printf("[Auth] 服务 [%s] 授权码已落库，等待换取 Token", svcName)
	c.JSON(http.StatusOK, gin.H{"message": "授权成功，可以关闭此页面"})
}
