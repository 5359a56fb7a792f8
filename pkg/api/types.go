package api

import (
	"encoding/json"

	"github.com/VeltarosLabs/powledger/internal/blockchain"
)

type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

type Health struct {
	OK   bool   `json:"ok"`
	Time string `json:"time"`
}

type NodeStatus struct {
	StartedAt     string `json:"startedAt"`
	UptimeSec     int64  `json:"uptimeSec"`
	Height        uint64 `json:"height"`
	Length        int    `json:"length"`
	TipHash       string `json:"tipHash"`
	Difficulty    int    `json:"difficulty"`
	HashAlgorithm string `json:"hashAlgorithm"`
	Subscribers   int    `json:"subscribers"`
}

// MineRequest is the body of POST /mineBlock.
type MineRequest struct {
	Data json.RawMessage `json:"data"`
}

// ErrorResponse is returned with every non-2xx status. Reason carries the
// failed validation check when a block was rejected.
type ErrorResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type VerifyResponse struct {
	Valid  bool   `json:"valid"`
	Length int    `json:"length"`
	Error  string `json:"error,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// FeedMessage is one websocket frame of GET /ws. The first frame has type
// "tip" and carries the tip at subscription time; later frames have type
// "block".
type FeedMessage struct {
	Type  string           `json:"type"`
	Block blockchain.Block `json:"block"`
}

const (
	FeedTip   = "tip"
	FeedBlock = "block"
)
