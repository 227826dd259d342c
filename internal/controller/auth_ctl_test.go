package controller

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Akinlua/autods/internal/config"
	"github.com/Akinlua/autods/internal/model"
	"github.com/Akinlua/autods/internal/repository"
	"github.com/Akinlua/autods/pkg/utils"
)

// ==================== 测试辅助 ====================

func setupCallbackRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(&model.PendingAuth{}); err != nil {
		t.Fatalf("数据库迁移失败: %v", err)
	}

	ctrl := NewAuthController(nil, repository.NewPendingAuthRepository(db), config.ServerConfig{})
	r := gin.New()
	r.GET("/api/oauth/callback", ctrl.Callback)
	return r, db
}

func getCallback(r *gin.Engine, query string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/oauth/callback"+query, nil)
	r.ServeHTTP(w, req)
	return w
}

// ==================== 授权回调 ====================

func TestCallback_PersistsRegisteredState(t *testing.T) {
	r, db := setupCallbackRouter(t)
	utils.RegisterState("registered-state", model.ServiceEbay)
	defer utils.ReleaseState("registered-state")

	w := getCallback(r, "?code=auth-code-1&state=registered-state")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, 期望 200, body: %s", w.Code, w.Body.String())
	}

	var pending model.PendingAuth
	if err := db.Where("state = ?", "registered-state").First(&pending).Error; err != nil {
		t.Fatalf("查询落库的授权码失败: %v", err)
	}
	if pending.AuthorizationCode != "auth-code-1" {
		t.Errorf("AuthorizationCode = %q, 期望 auth-code-1", pending.AuthorizationCode)
	}
	if pending.Service != model.ServiceEbay {
		t.Errorf("Service = %q, 期望 %q", pending.Service, model.ServiceEbay)
	}
}

// 授权可能由另一个实例发起，本进程没登记过的 state 同样要落库，
// 由轮询方按 state 匹配领取
func TestCallback_PersistsUnknownState(t *testing.T) {
	r, db := setupCallbackRouter(t)

	w := getCallback(r, "?code=auth-code-2&state=foreign-state")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, 期望 200, body: %s", w.Code, w.Body.String())
	}

	var pending model.PendingAuth
	if err := db.Where("state = ?", "foreign-state").First(&pending).Error; err != nil {
		t.Fatalf("未登记的 state 也应落库: %v", err)
	}
	if pending.AuthorizationCode != "auth-code-2" {
		t.Errorf("AuthorizationCode = %q, 期望 auth-code-2", pending.AuthorizationCode)
	}
	if pending.Service != model.ServiceEbay {
		t.Errorf("Service = %q, 期望默认 %q", pending.Service, model.ServiceEbay)
	}
}

func TestCallback_MissingParams(t *testing.T) {
	r, db := setupCallbackRouter(t)

	w := getCallback(r, "?code=only-code")
	if w.Code != http.StatusBadRequest {
		t.Errorf("缺 state 时 status = %d, 期望 400", w.Code)
	}

	w = getCallback(r, "?error=access_denied&error_description=user+denied")
	if w.Code != http.StatusBadRequest {
		t.Errorf("授权被拒时 status = %d, 期望 400", w.Code)
	}

	var count int64
	db.Model(&model.PendingAuth{}).Count(&count)
	if count != 0 {
		t.Errorf("非法回调不应落库，实际 %d 条", count)
	}
}
