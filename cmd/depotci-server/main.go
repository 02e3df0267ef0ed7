package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"depotci/internal/app"
	"depotci/internal/server"
)

func main() {
	a := cli.NewApp()
	a.Name = "depotci-server"
	a.Usage = "Accept pipelines over HTTP and run them one at a time"
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config, c",
			Usage:  "Main configuration file",
			Value:  "config.toml",
			EnvVar: "DEPOTCI_CONFIG",
		},
		cli.StringFlag{
			Name:   "address",
			Usage:  "Listen address, overrides main.server_address",
			EnvVar: "DEPOTCI_ADDRESS",
		},
		cli.IntFlag{
			Name:  "queue-size",
			Usage: "Pipelines allowed to wait for execution",
			Value: server.DefaultQueueSize,
		},
	}
	a.Action = serve

	if err := a.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func serve(c *cli.Context) error {
	deps, err := app.Setup(c.String("config"))
	if err != nil {
		return err
	}
	defer deps.Close()

	address := c.String("address")
	if address == "" {
		address = deps.Config.Main.ServerAddress
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(deps.Dispatcher, deps.Ledger, deps.Registry, deps.Log, c.Int("queue-size"))
	go srv.Work(ctx)

	httpServer := &http.Server{
		Addr:              address,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			deps.Log.WithError(err).Warn("HTTP shutdown failed")
		}
	}()

	deps.Log.WithField("address", address).Info("depotci server listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
