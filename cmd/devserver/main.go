package main

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/pattersondev/voynich-client/internal/config"
	"github.com/pattersondev/voynich-client/internal/db"
	clog "github.com/pattersondev/voynich-client/internal/log"
	"github.com/pattersondev/voynich-client/internal/server"
	"github.com/pattersondev/voynich-client/internal/ws"
)

func main() {
	// main 函数负责加载配置、初始化日志、打开数据库并启动 Gin 服务。
	_ = godotenv.Load()
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	store := server.NewChatStore(gdb)
	hub := ws.NewHub()

	sweeper := server.NewSweeper(store, hub, time.Duration(cfg.SweepIntervalSec)*time.Second)
	go sweeper.Run()
	defer sweeper.Stop()

	r := server.SetupRouter(cfg, store, hub)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
