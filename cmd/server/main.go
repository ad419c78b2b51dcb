package main

import (
	"log"

	"github.com/yearbookpress/internal/config"
	"github.com/yearbookpress/internal/db"
	"github.com/yearbookpress/internal/pdf"
	"github.com/yearbookpress/internal/router"
)

func main() {
	cfg := config.Load()

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// 按需创建初始管理账号
	if err := db.EnsureUser(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.Fatalf("failed to ensure root user: %v", err)
	}

	// 设置并运行 Gin 服务器
	r := router.SetupRouter(cfg, pdf.NewFitzRasterizer(pdf.DefaultDPI))
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatalf("failed to run server: %v", err)
	}
}
