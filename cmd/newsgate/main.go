package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-while/go-newsgate/internal/config"
	"github.com/go-while/go-newsgate/internal/nntp"
	"github.com/go-while/go-newsgate/internal/supervisor"
)

var appVersion = "-unset-"

func main() {
	config.AppVersion = appVersion
	log.Printf("Starting go-newsgate (version: %s)", config.AppVersion)

	var (
		configPath string
		listenAddr string
		maxConns   int
	)
	flag.StringVar(&configPath, "config", "newsgate.toml", "path to the TOML configuration file")
	flag.StringVar(&listenAddr, "listen", ":1190", "NNTP listen address")
	flag.IntVar(&maxConns, "maxconnections", config.NNTPServerMaxConns, "allow max of N concurrent NNTP connections")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("[NEWSGATE] configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}

	sup, err := supervisor.New(ctx, cfg, wg)
	if err != nil {
		log.Fatalf("[NEWSGATE] failed to initialize supervisor: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sup.Run(ctx); err != nil {
			log.Printf("[NEWSGATE] supervisor stopped: %v", err)
		}
	}()

	nntpServer, err := nntp.NewNNTPServer(sup.Backend(), nntp.Config{
		Addr:     listenAddr,
		MaxConns: maxConns,
	}, wg)
	if err != nil {
		log.Fatalf("[NEWSGATE] failed to create NNTP server: %v", err)
	}
	if err := nntpServer.Start(); err != nil {
		log.Fatalf("[NEWSGATE] failed to start NNTP server: %v", err)
	}
	log.Printf("[NEWSGATE] NNTP server listening on %s", listenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[NEWSGATE] shutting down...")
	if err := nntpServer.Stop(); err != nil {
		log.Printf("[NEWSGATE] error stopping NNTP server: %v", err)
	}
	cancel()
	wg.Wait()
	if err := sup.Store().Close(); err != nil {
		log.Printf("[NEWSGATE] error closing store: %v", err)
	}
	log.Println("[NEWSGATE] stopped")
}
