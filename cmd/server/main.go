package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	chainkey "github.com/arvht/chainkey"
	"github.com/arvht/chainkey/apiServer"
	"github.com/arvht/chainkey/internal/config"
	"github.com/arvht/chainkey/pkg/logging"
)

func main() {
	conf := config.GetConfig()
	logger := logging.NewLogger(slog.LevelInfo)
	fmt.Println("Starting Services...")

	ck, err := chainkey.New(chainkey.Config{
		Paths:           []string{conf.DataDir},
		MinimumFreeGB:   uint(conf.MinimumFreeGB),
		Logger:          logger,
		ContractGateway: conf.ContractGateway,
	})
	if err != nil {
		logger.Error("init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ck.Start(ctx); err != nil {
		logger.Error("start failed", "error", err)
		os.Exit(1)
	}
	defer ck.CloseWithoutContext()

	srv := &http.Server{
		Addr:    conf.ListenAddr,
		Handler: apiServer.New(ck, apiServer.WithLogger(logger)),
	}

	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()

	logger.Info("listening", "addr", conf.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
