// cmd/inventory-service/main.go
package main

import (
	"stockhub/internal/pkg/bootstrap"
)

const serviceName = "inventory-service"

// main 是应用的组装根: 创建并组装所有依赖项，然后启动应用
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      serviceName,
		Port:             cfg.App.Port,
		RegisterHandlers: registerHandlers,
	})
}
