package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrtrick/fireengine/internal/config"
	"github.com/mrtrick/fireengine/internal/log"
	"github.com/mrtrick/fireengine/internal/profile"
	"github.com/mrtrick/fireengine/internal/rest"
	"github.com/mrtrick/fireengine/pkg/engine"
	"github.com/mrtrick/fireengine/pkg/engine/rule"
	"github.com/mrtrick/fireengine/pkg/identity"
	"github.com/mrtrick/fireengine/pkg/script"
	"github.com/mrtrick/fireengine/pkg/storage"
	"github.com/mrtrick/fireengine/pkg/storage/couch"
	"github.com/mrtrick/fireengine/pkg/storage/inmemory"
)

func main() {
	profile.InitProfile()
	log.Init()

	appContext, ctxCancel := context.WithCancel(context.Background())

	conf := config.InitConfig()

	scripts := script.NewRuntime(appContext, conf.Engine.VmPoolMin, conf.Engine.VmPoolMax)
	rules := rule.NewCompiler(scripts)

	registry, err := engine.NewRegistry(appContext, storage.DesignDir{Dir: conf.Engine.DesignsDir}, rules, scripts)
	if err != nil {
		log.Error("Failed to load designs: %s", err)
		os.Exit(1)
	}

	store, err := openStore(conf)
	if err != nil {
		log.Error("Failed to open activity store: %s", err)
		os.Exit(1)
	}

	eng := engine.New(
		engine.WithRegistry(registry),
		engine.WithStore(store),
		engine.WithFireTimeout(time.Duration(conf.Engine.FireTimeoutMs)*time.Millisecond),
	)

	var verifier *identity.TokenVerifier
	if conf.Auth.JwtSecret != "" {
		verifier = identity.NewTokenVerifier(conf.Auth.JwtSecret)
	} else {
		log.Warn("JWT_SECRET is not set; all requests are treated as anonymous")
	}

	// Start the public API
	svr := rest.NewServer(eng, verifier, conf)
	svr.Start()

	appStop := make(chan os.Signal, 2)
	handleSigterm(appStop)

	ctxCancel()
	// cleanup
	svr.Stop(context.Background())
}

func openStore(conf config.Config) (storage.ActivityStore, error) {
	if conf.Store.CouchDSN != "" {
		return couch.New(conf.Store.CouchDSN)
	}
	log.Warn("COUCH_DSN is not set; activities are stored in memory only")
	return inmemory.NewStore(), nil
}

func handleSigterm(appStop chan os.Signal) {
	signal.Notify(appStop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-appStop
	log.Info("Received %s. Shutting down", sig.String())
}
