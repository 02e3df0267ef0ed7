// Package ledger keeps an append-only, hash-chained record of finished
// pipeline actions in a JSON lines file.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"depotci/internal/security"
)

// FileName is the ledger file inside ci_home.
const FileName = "ledger.jsonl"

// Ledger is the in-memory view of a ledger file.
type Ledger struct {
	mu     sync.Mutex
	blocks []*Block
	path   string
	keys   *security.KeyPair
}

// Option customizes Open.
type Option func(*Ledger)

// WithKeys signs every appended block with keys.
func WithKeys(keys *security.KeyPair) Option {
	return func(l *Ledger) {
		l.keys = keys
	}
}

// Open loads the ledger at path, creating an empty file if it is missing.
func Open(path string, opts ...Option) (*Ledger, error) {
	l := &Ledger{path: path}
	for _, opt := range opts {
		opt(l)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return l, f.Close()
	}
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var blk Block
		if err := dec.Decode(&blk); err != nil {
			return nil, fmt.Errorf("decode ledger entry %d: %w", len(l.blocks), err)
		}
		l.blocks = append(l.blocks, &blk)
	}
	return l, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string {
	return l.path
}

// Append chains b after the last block, signs it when keys are set, and
// persists it.
func (l *Ledger) Append(b *Block) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b.Index = len(l.blocks)
	b.PrevHash = ""
	if b.Index > 0 {
		b.PrevHash = l.blocks[b.Index-1].Hash
	}
	h, err := b.ComputeHash()
	if err != nil {
		return fmt.Errorf("compute block hash: %w", err)
	}
	b.Hash = h

	if l.keys != nil {
		b.Signature = l.keys.Sign([]byte(b.Hash))
		b.PubKey = l.keys.PublicHex()
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(b); err != nil {
		return fmt.Errorf("write ledger file: %w", err)
	}
	l.blocks = append(l.blocks, b)
	return nil
}

// Blocks returns a copy of the block list.
func (l *Ledger) Blocks() []*Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Block(nil), l.blocks...)
}

// LastHash returns the hash of the last block, or "" for an empty ledger.
func (l *Ledger) LastHash() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.blocks) == 0 {
		return ""
	}
	return l.blocks[len(l.blocks)-1].Hash
}
