// サイトのエントリポイント。
// 通常はページ・認証API・投稿APIを提供するサーバーとして起動する。
// -upstream（または HAVEN_UPSTREAM）を指定すると、ルートガードだけを前段に置いた
// リバースプロキシとして起動する。
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

	"go.uber.org/zap"

	"github.com/nao1215/haven/internal/config"
	"github.com/nao1215/haven/internal/site"
	"github.com/nao1215/haven/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "haven: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env-file", ".env", ".env ファイルのパス")
	upstream := flag.String("upstream", "", "ガードの後段に置く上流サーバーのURL")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *upstream != "" {
		cfg.Upstream = *upstream
	}

	log, err := logger.New(cfg.Level(), cfg.IsDevelopment(), zap.String("service", "haven"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if cfg.UsingDevSecret() {
		log.Warn("開発用のJWT秘密鍵を使用しています。本番環境では HAVEN_JWT_SECRET を設定してください")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Upstream != "" {
		return runProxy(ctx, cfg, log)
	}

	server, err := site.NewServer(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("サーバーの初期化に失敗: %w", err)
	}
	defer server.Close()

	log.Info("サイトを起動します",
		zap.String("addr", cfg.Addr()),
		zap.Strings("locales", cfg.Locales),
		zap.Bool("strict_bare_admin", cfg.StrictBareAdmin))
	return server.Run(ctx)
}

// runProxy はルートガード付きのリバースプロキシを起動する。
func runProxy(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	handler, err := site.NewProxy(cfg, log)
	if err != nil {
		return err
	}

	log.Info("ガードプロキシを起動します",
		zap.String("addr", cfg.Addr()),
		zap.String("upstream", cfg.Upstream))
	return site.Serve(ctx, &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, cfg.ShutdownTimeout, log)
}
