package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"depotci/pkg/utils"
)

// Action outcomes recorded in a block.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// LogRef points at a saved command log and its content hash.
type LogRef struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

// Block is a tamper-evident record of one finished action.
type Block struct {
	Index     int      `json:"index"`
	Timestamp string   `json:"timestamp"`
	RunID     string   `json:"runId"`
	Action    string   `json:"action"`
	Kind      string   `json:"kind"`
	Status    string   `json:"status"`
	Error     string   `json:"error,omitempty"`
	Logs      []LogRef `json:"logs,omitempty"`
	PrevHash  string   `json:"prevHash"`
	Hash      string   `json:"hash"`
	Signature string   `json:"signature,omitempty"`
	PubKey    string   `json:"pubKey,omitempty"`
}

// canonicalData returns the JSON bytes the hash covers: everything except
// Hash, Signature and PubKey.
func (b *Block) canonicalData() ([]byte, error) {
	view := struct {
		Index     int      `json:"index"`
		Timestamp string   `json:"timestamp"`
		RunID     string   `json:"runId"`
		Action    string   `json:"action"`
		Kind      string   `json:"kind"`
		Status    string   `json:"status"`
		Error     string   `json:"error"`
		Logs      []LogRef `json:"logs"`
		PrevHash  string   `json:"prevHash"`
	}{
		Index:     b.Index,
		Timestamp: b.Timestamp,
		RunID:     b.RunID,
		Action:    b.Action,
		Kind:      b.Kind,
		Status:    b.Status,
		Error:     b.Error,
		Logs:      b.Logs,
		PrevHash:  b.PrevHash,
	}
	return json.Marshal(view)
}

// ComputeHash returns the SHA-256 of canonicalData.
func (b *Block) ComputeHash() (string, error) {
	data, err := b.canonicalData()
	if err != nil {
		return "", err
	}
	return utils.HashString(string(data)), nil
}

// NewBlock builds an unchained block for an action outcome. Append fills
// in Index, PrevHash and Hash.
func NewBlock(runID, action, kind, status string, actionErr error, logs []LogRef) *Block {
	blk := &Block{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RunID:     runID,
		Action:    action,
		Kind:      kind,
		Status:    status,
		Logs:      logs,
	}
	if actionErr != nil {
		blk.Error = actionErr.Error()
	}
	return blk
}

func (b *Block) String() string {
	hash := b.Hash
	if len(hash) > 16 {
		hash = hash[:16]
	}
	return fmt.Sprintf("Index=%d Run=%s Action=%s Kind=%s Status=%s Hash=%s", b.Index, b.RunID, b.Action, b.Kind, b.Status, hash)
}
