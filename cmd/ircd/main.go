// Command ircd is the thin wiring binary: parse flags, load config,
// build a *server.Server, and run it until signaled. It contains no
// business logic of its own — every behavior lives in the packages
// server.New wires together.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerion-net/ircd/ircdconfig"
	"github.com/nerion-net/ircd/ircdlog"
	"github.com/nerion-net/ircd/server"
)

func main() {
	var (
		confPath    = flag.String("config", "/etc/ircd/ircd.conf", "path to the main configuration file")
		confdPath   = flag.String("confd", "/etc/ircd/conf.d", "path to the conf.d overlay directory")
		logPath     = flag.String("log", "", "path to the log file (stderr if empty)")
		linkPassword = flag.String("link-password", "", "S2S link password; empty disables replication")
	)
	flag.Parse()

	log := ircdlog.NewDiscard()
	if *logPath != "" {
		f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ircd: opening log file:", err)
			os.Exit(1)
		}
		log = ircdlog.New(f)
	}

	watcher, err := ircdconfig.NewWatcher(*confPath, *confdPath, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ircd: loading configuration:", err)
		os.Exit(1)
	}
	defer watcher.Close()

	srv, err := server.New(watcher.Config(), log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ircd: building server:", err)
		os.Exit(1)
	}
	srv.SetReloader(func() error {
		if err := watcher.Reload(); err != nil {
			return err
		}
		*srv.Config = *watcher.Config()
		return nil
	})
	if *linkPassword != "" {
		srv.EnableReplication(*linkPassword)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-hup:
				if err := srv.Rehash(); err != nil {
					log.Errorf("rehash failed", ircdlog.ErrField(err))
				} else {
					log.Infof("rehash complete")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Infof("ircd starting", ircdlog.KV("server-name", watcher.Config().Global.ServerName), ircdlog.SID(watcher.Config().Global.ServerID))
	if err := srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintln(os.Stderr, "ircd: serve:", err)
		os.Exit(1)
	}
}
