package utils

import (
	"sync"
	"time"
)

// 进行中授权的 state 登记表，回调接口用它反查服务名并校验 state。
// 使用 sync.Map 保证并发安全
var stateRegistry sync.Map

// stateEntry 内部结构，包含服务名和过期时间
type stateEntry struct {
	service    string
	expiration int64
}

// RegisterState 登记一次授权的 state 与所属服务
func RegisterState(state, service string) {
	// 有效期对齐授权流程的等待上限，略放宽到 10 分钟
	exp := time.Now().Add(10 * time.Minute).Unix()

	stateRegistry.Store(state, stateEntry{
		service:    service,
		expiration: exp,
	})
}

// LookupState 按 state 反查服务名，过期视为不存在
func LookupState(state string) (string, bool) {
	val, ok := stateRegistry.Load(state)
	if !ok {
		return "", false
	}

	entry := val.(stateEntry)

	// 检查是否过期
	if time.Now().Unix() > entry.expiration {
		stateRegistry.Delete(state) // 懒删除
		return "", false
	}

	return entry.service, true
}

// ReleaseState 授权完成后注销 state (用完即焚)
func ReleaseState(state string) {
	stateRegistry.Delete(state)
}
