package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbeuw/netcode/internal/common"
	"github.com/cbeuw/netcode/internal/server"
	"github.com/cbeuw/netcode/internal/transport"
	gmux "github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

var version string

const tickRate = 60

// makeTransceiver listens on WebSocket when raw asks for it and on UDP otherwise
func makeTransceiver(raw *server.RawConfig, cfg server.Config) (transport.Transceiver, error) {
	if raw.WebSocketAddr == "" {
		log.Infof("Listening on udp %v", raw.BindAddr)
		return transport.ListenUDP(raw.BindAddr)
	}
	listener := transport.NewWebSocketListener(cfg.PublicAddr)
	router := gmux.NewRouter()
	router.Handle("/", listener)
	go func() {
		log.Infof("Listening on websocket %v", raw.WebSocketAddr)
		err := http.ListenAndServe(raw.WebSocketAddr, router)
		log.Fatalf("websocket listener stopped: %v", err)
	}()
	return listener, nil
}

// echo sends every payload back to the client it came from
func echo(s *server.Server) {
	for {
		data, idx, ok := s.Recv()
		if !ok {
			return
		}
		if err := s.Send(data, idx); err != nil {
			log.Debugf("failed to echo to client %v: %v", idx.Index, err)
		}
	}
}

func main() {
	var config string
	var wsAddr string

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	flag.StringVar(&config, "c", "server.json", "config: path to the configuration file or its content")
	flag.StringVar(&wsAddr, "ws", "", "ws: serve clients over WebSocket on this address, overriding WebSocketAddr in the config")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")
	genKey := flag.Bool("k", false, "Generate a private key and output it to STDOUT in base64")
	verbosity := flag.String("verbosity", "info", "verbosity level")
	flag.Parse()

	if *askVersion {
		fmt.Printf("nc-server %s", version)
		return
	}
	if *printUsage {
		flag.Usage()
		return
	}
	if *genKey {
		fmt.Println(generatePrivateKey())
		return
	}

	lvl, err := log.ParseLevel(*verbosity)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)

	raw, err := server.ParseConfig(config)
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}
	if wsAddr != "" {
		raw.WebSocketAddr = wsAddr
	}
	cfg, err := raw.ProcessRawConfig(common.RealWorldState)
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}

	tr, err := makeTransceiver(raw, cfg)
	if err != nil {
		log.Fatal(err)
	}
	s, err := server.MakeServer(tr, cfg)
	if err != nil {
		log.Fatalf("unable to start server: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()
	start := time.Now()
	for {
		select {
		case <-sig:
			log.Info("shutting down")
			s.DisconnectAll()
			_ = tr.Close()
			return
		case <-report.C:
			rx, tx := s.Valve().Nullify()
			log.WithFields(log.Fields{
				"clients": s.NumConnectedClients(),
				"rx":      rx,
				"tx":      tx,
			}).Info("traffic in the last 10 seconds")
		case <-ticker.C:
			s.Update(time.Since(start).Seconds())
			echo(s)
		}
	}
}
