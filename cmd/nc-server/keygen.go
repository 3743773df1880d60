package main

import (
	"encoding/base64"

	"github.com/cbeuw/netcode/internal/common"
)

func generatePrivateKey() string {
	key := common.GenerateKey(common.RealWorldState.Rand)
	return base64.StdEncoding.EncodeToString(key[:])
}
