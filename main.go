package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"concretetool/peer"
	"concretetool/server"
)

// 入口：启动 HTTP + WebSocket 服务；-connect 时作为对端加入另一台主机
func main() {
	var (
		addr       string
		configPath string
		logPath    string
		connect    string
		roomID     string
	)
	flag.StringVar(&addr, "addr", "", "listen address, e.g. :8080 (overrides config)")
	flag.StringVar(&configPath, "config", "", "path to config.yaml")
	flag.StringVar(&logPath, "log", "", "log file path (overrides config)")
	flag.StringVar(&connect, "connect", "", "upstream host websocket URL; join it as a peer instead of hosting")
	flag.StringVar(&roomID, "room", "", "room id (overrides config)")
	flag.Parse()

	cfg := server.DefaultConfig()
	var cfgErr error
	if configPath != "" {
		cfg, cfgErr = server.LoadConfig(configPath)
	}
	if addr != "" {
		cfg.Listen = addr
	}
	if logPath != "" {
		cfg.LogFile = logPath
	}
	if roomID != "" {
		cfg.DefaultRoom = roomID
	}

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer server.SyncLogger()
	if cfgErr != nil {
		server.Log.Fatalf("load config: %v", cfgErr)
	}

	rm := server.NewRoomManager(cfg)
	// 预创建默认房间；找不到工具材质时直接退出
	room, err := rm.GetOrCreateRoom(cfg.DefaultRoom)
	if err != nil {
		server.Log.Fatalf("create room: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	if connect != "" {
		client, err := peer.Dial(ctx, connect, server.Log)
		if err != nil {
			server.Log.Fatalf("connect upstream: %v", err)
		}
		room.SetUpstream(client)
		go func() {
			err := client.Run(ctx, func(b []byte) { room.OnBatch("upstream", b) })
			if err != nil && !errors.Is(err, context.Canceled) {
				server.Log.Errorf("upstream closed: %v", err)
			}
		}()
		server.Log.Infof("joined %s as peer", connect)
	} else {
		mux.HandleFunc("/ws", rm.HandleWS)
	}
	// 管理与监控接口
	mux.HandleFunc("/admin/config", rm.HandleAdminConfig)
	mux.HandleFunc("/admin/actor", rm.HandleActor)
	mux.HandleFunc("/admin/volumes", rm.HandleVolumes)
	mux.HandleFunc("/metrics", rm.HandleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	go func() {
		server.Log.Infof("concrete tool listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			server.Log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	<-ctx.Done()
	server.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnf("http shutdown: %v", err)
	}
	rm.Close()
}
