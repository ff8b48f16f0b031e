package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/switchsuitepro/switchsuitepro/api/router"
	"github.com/switchsuitepro/switchsuitepro/internal/config"
	"github.com/switchsuitepro/switchsuitepro/internal/database"
	"github.com/switchsuitepro/switchsuitepro/internal/service"
	"github.com/switchsuitepro/switchsuitepro/pkg/logger"
	"github.com/switchsuitepro/switchsuitepro/simulate"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("Starting Switch Suite Pro server, version 1.0.0")

	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	runner := service.NewRunner(cfg)

	// 启动模拟服务（可选）
	var sim *simulate.Server
	if cfg.Server.SimulateEnable {
		simPath := "simulate/simulate.yaml"
		if _, err := os.Stat(simPath); err != nil {
			logger.Warnf("simulate: %s missing, skip starting simulator", simPath)
		} else if sc, err := simulate.LoadConfig(simPath); err != nil {
			logger.Warnf("simulate: failed to load %s: %v", simPath, err)
		} else if srv, err := simulate.Start(sc); err != nil {
			logger.Warnf("simulate: failed to start: %v", err)
		} else {
			sim = srv
		}
	}
	defer func() {
		if sim != nil {
			sim.Stop()
		}
	}()

	r := router.SetupRouter(runner)

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		logger.Infof("Server listening on %s (mode=%s)", server.Addr, cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 配置文件监听与热更新
	go watchConfig(*configPath, cfg)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("Server shutdown complete")
	}
}

// watchConfig 监听配置文件变化，防抖后原地重载
func watchConfig(path string, cfg *config.Config) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("config watch init failed: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.Warnf("config watch add failed: %v", err)
		return
	}

	var debounce *time.Timer
	trigger := func() {
		newCfg, err := config.Load(path)
		if err != nil {
			logger.Warnf("config reload failed: %v", err)
			return
		}
		// 原地覆盖，保持指针不变
		*cfg = *newCfg
		_ = logger.Init(cfg.Log)
		logger.Infof("config reloaded from %s", path)
	}

	for {
		select {
		case ev := <-watcher.Events:
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, trigger)
			}
		case err := <-watcher.Errors:
			logger.Warnf("config watch error: %v", err)
		}
	}
}
