package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"planroom/internal/config"
	"planroom/internal/db"
	clog "planroom/internal/log"
	"planroom/internal/server"
	"planroom/internal/store"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志，然后交给 run 打开存储并启动 Gin 服务。
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("load .env")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
	log.Info().Msg("server stopped")
}

// run 返回前会关闭存储，log.Fatal 只在它之后调用。
func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := db.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open (%s): %w", cfg.StoreDriver, err)
	}
	st := store.New(backend)
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("store close")
		}
	}()
	// 启动时加载一次，迁移旧数据或备份损坏的文件。
	if _, err := st.Load(ctx); err != nil {
		return fmt.Errorf("store load: %w", err)
	}

	r, rl := server.SetupRouter(cfg, st)
	defer rl.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("driver", cfg.StoreDriver).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
