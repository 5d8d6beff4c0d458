// Command wardend is the Warden daemon. It loads warden.ini into the config
// store, serves the JSON API over a Unix socket, reloads the config when the
// file changes or on SIGHUP, and reaps clients whose processes have died.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mjs/warden/internal/buildinfo"
	"github.com/mjs/warden/internal/config"
	"github.com/mjs/warden/internal/engine"
	"github.com/mjs/warden/internal/log"
	"github.com/mjs/warden/internal/proc"
	"github.com/mjs/warden/internal/scripts"
	"github.com/mjs/warden/internal/watcher"
	"github.com/mjs/warden/pkg/api"
)

const defaultSocketPath = "/var/run/wardend.socket"

func main() {
	sockPath := flag.String("socket", defaultSocketPath, "unix socket path for the control API")
	version := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("wardend %s (%s)\n", buildinfo.Version, buildinfo.Commit)
		return
	}

	// Build deps: store first, everything else reads through it.
	store := config.New()
	store.Init()

	ctx, cancel := context.WithCancel(context.Background())
	eng := engine.New(store, proc.PS{}, scripts.NewShellRunner())
	eng.Run(ctx)

	apiSrv := api.New(eng, store)

	// The watcher is optional: a daemon without inotify access still works,
	// reloads then come from SIGHUP or the API.
	w, err := watcher.New(config.ConfigName, []string{".", config.SystemConfigDir}, eng.TriggerReload)
	if err != nil {
		log.Warnf("config watcher disabled: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := apiSrv.ListenAndServe(*sockPath); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}

	log.Infof("wardend %s listening on %s", buildinfo.Version, *sockPath)

	// SIGHUP reloads, SIGINT/SIGTERM shut down. A failed API listener
	// cancels gctx and takes the daemon down too.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	running := true
	for running {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				log.Info("received SIGHUP, reloading config")
				eng.TriggerReload()
				continue
			}
			running = false
		case <-gctx.Done():
			running = false
		}
	}
	log.Info("shutting down…")

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("api shutdown error: %v", err)
	}
	if w != nil {
		if err := w.Close(); err != nil {
			log.Errorf("watcher close error: %v", err)
		}
	}
	cancel()
	eng.Close()

	if err := g.Wait(); err != nil {
		log.Errorf("shutdown error: %v", err)
	}
	if err := store.Close(); err != nil {
		log.Errorf("store close error: %v", err)
	}
}
