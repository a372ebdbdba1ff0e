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

	"github.com/sirupsen/logrus"

	"github.com/John-Robertt/subconverter-go/internal/httpapi"
	"github.com/John-Robertt/subconverter-go/internal/settings"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:25500", "HTTP 监听地址")
	readHeaderTimeout := flag.Duration("read-header-timeout", 5*time.Second, "HTTP ReadHeaderTimeout（请求头读取超时）")
	convertTimeout := flag.Duration("convert-timeout", 60*time.Second, "单次转换的总超时（包含远程拉取）")
	fetchTimeout := flag.Duration("fetch-timeout", 15*time.Second, "单次远程拉取的超时（每个 URL 一次请求）")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "收到退出信号后的优雅退出等待时间")
	settingsPath := flag.String("settings", "", "配置文件路径（留空则使用内置默认值）")
	flag.Parse()

	st, err := loadSettings(*settingsPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load settings")
	}

	srv := &http.Server{
		Addr: *listen,
		Handler: httpapi.NewHandlerWithOptions(httpapi.Options{
			ConvertTimeout: *convertTimeout,
			FetchTimeout:   *fetchTimeout,
			Settings:       st,
		}),
		ReadHeaderTimeout: *readHeaderTimeout,
	}

	logrus.WithField("addr", *listen).Info("listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logrus.Info("shutdown signal received")

		shCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logrus.WithError(err).Warn("graceful shutdown failed")
			_ = srv.Close()
		}

		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server error")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("server error")
		}
	}
}

func loadSettings(path string) (*settings.Settings, error) {
	if path == "" {
		return settings.Load("")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return settings.Load(string(content))
}
