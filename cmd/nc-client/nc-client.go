package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cbeuw/netcode/internal/authority"
	"github.com/cbeuw/netcode/internal/client"
	"github.com/cbeuw/netcode/internal/token"
	"github.com/cbeuw/netcode/internal/transport"
	log "github.com/sirupsen/logrus"
)

var version string

const tickRate = 60

// decodeToken accepts a connect token either raw or in base64
func decodeToken(content []byte) ([]byte, error) {
	if len(content) == token.ConnectTokenBytes {
		return content, nil
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(content)))
	if err != nil {
		return nil, fmt.Errorf("connect token is neither raw nor base64: %w", err)
	}
	return b, nil
}

// fetchToken asks a token authority for a connect token for clientID
func fetchToken(authorityURL string, clientID uint64) ([]byte, error) {
	url := strings.TrimSuffix(authorityURL, "/") + "/token/" + strconv.FormatUint(clientID, 10)
	resp, err := http.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("authority returned %v", resp.Status)
	}
	var tr authority.TokenResponse
	if err = json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, err
	}
	return tr.ConnectToken, nil
}

func makeTransceiver(wsURL string, tok *token.ConnectToken) (transport.Transceiver, error) {
	if wsURL == "" {
		return transport.ListenUDP(":0")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return transport.DialWebSocket(ctx, wsURL, tok.ServerAddrs[0])
}

func main() {
	var tokenPath string
	var authorityURL string
	var clientID uint64
	var wsURL string

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	flag.StringVar(&tokenPath, "t", "", "token: path to a connect token file, raw or base64")
	flag.StringVar(&authorityURL, "a", "", "authority: URL of a token authority to fetch a connect token from")
	flag.Uint64Var(&clientID, "id", 0, "id: client id to ask the authority for")
	flag.StringVar(&wsURL, "ws", "", "ws: connect over WebSocket to this URL instead of UDP")
	askVersion := flag.Bool("v", false, "Print the version number")
	printUsage := flag.Bool("h", false, "Print this message")
	verbosity := flag.String("verbosity", "info", "verbosity level")
	flag.Parse()

	if *askVersion {
		fmt.Printf("nc-client %s", version)
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

	var tokenBytes []byte
	switch {
	case tokenPath != "":
		content, err := os.ReadFile(tokenPath)
		if err != nil {
			log.Fatalf("unable to read connect token: %v", err)
		}
		tokenBytes, err = decodeToken(content)
		if err != nil {
			log.Fatal(err)
		}
	case authorityURL != "":
		tokenBytes, err = fetchToken(authorityURL, clientID)
		if err != nil {
			log.Fatalf("unable to fetch connect token: %v", err)
		}
	default:
		log.Fatal(errors.New("either -t or -a must be given"))
	}

	tok, err := token.ReadPublic(tokenBytes)
	if err != nil {
		log.Fatalf("bad connect token: %v", err)
	}
	tr, err := makeTransceiver(wsURL, tok)
	if err != nil {
		log.Fatal(err)
	}
	defer tr.Close()
	c := client.New(tok, tr, client.Config{})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / tickRate)
	defer ticker.Stop()
	start := time.Now()
	c.Connect(0)
	var lastPayload float64
	var counter int
	for {
		select {
		case <-sig:
			c.Disconnect()
			return
		case <-ticker.C:
		}
		now := time.Since(start).Seconds()
		c.Update(now)
		if c.IsError() {
			log.Fatalf("unable to stay connected: %v", c.State())
		}
		if c.IsDisconnected() {
			return
		}
		if !c.IsConnected() {
			continue
		}
		if now-lastPayload >= 1 {
			counter++
			if err := c.Send([]byte(fmt.Sprintf("payload %d", counter))); err != nil {
				log.Errorf("failed to send payload: %v", err)
			}
			lastPayload = now
		}
		for {
			b, ok := c.Recv()
			if !ok {
				break
			}
			log.Infof("received %q", b)
		}
	}
}
