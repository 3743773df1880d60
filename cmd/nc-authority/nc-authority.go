package main

import (
	"flag"
	"fmt"
	"net/http"

	"github.com/cbeuw/netcode/internal/authority"
	"github.com/cbeuw/netcode/internal/common"
	log "github.com/sirupsen/logrus"
)

var version string

func main() {
	var config string
	var listenAddr string
	var dbPath string

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	flag.StringVar(&config, "c", "authority.json", "config: path to the configuration file or its content")
	flag.StringVar(&listenAddr, "l", "127.0.0.1:8080", "listen: address to serve the HTTP API on")
	flag.StringVar(&dbPath, "db", "clients.db", "db: path to the client database")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")
	verbosity := flag.String("verbosity", "info", "verbosity level")
	flag.Parse()

	if *askVersion {
		fmt.Printf("nc-authority %s", version)
		return
	}
	if *printUsage {
		flag.Usage()
		return
	}

	lvl, err := log.ParseLevel(*verbosity)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(lvl)

	raw, err := authority.ParseConfig(config)
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}
	cfg, err := raw.ProcessRawConfig()
	if err != nil {
		log.Fatalf("Configuration file error: %v", err)
	}

	issuer, err := authority.MakeLocalIssuer(dbPath, common.RealWorldState, cfg)
	if err != nil {
		log.Fatalf("unable to open client database: %v", err)
	}
	defer issuer.Close()

	log.Infof("Serving the authority API on %v", listenAddr)
	log.Error(http.ListenAndServe(listenAddr, authority.APIRouterOf(issuer)))
}
