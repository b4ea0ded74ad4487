package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"time"

	"github.com/BrandonDHaskell/Bulletin/internal/bulletin/store"
	"github.com/BrandonDHaskell/Bulletin/internal/ids"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	DefaultCodeLength = 6
	DefaultCodeTTL    = 5 * time.Minute
)

type GeneratorConfig struct {
	// Length of the code.  Defaults to 6.
	Length int
	// TTL is the validity window.  Defaults to 5 minutes.
	TTL time.Duration
	// Rand is the entropy source for code characters.  Defaults to
	// crypto/rand.
	Rand io.Reader
	Now  func() time.Time
}

// CodeGenerator produces fresh unused access codes.
type CodeGenerator struct {
	length int
	ttl    time.Duration
	rand   io.Reader
	now    func() time.Time
}

func NewCodeGenerator(cfg GeneratorConfig) *CodeGenerator {
	g := &CodeGenerator{
		length: cfg.Length,
		ttl:    cfg.TTL,
		rand:   cfg.Rand,
		now:    cfg.Now,
	}
	if g.length <= 0 {
		g.length = DefaultCodeLength
	}
	if g.ttl <= 0 {
		g.ttl = DefaultCodeTTL
	}
	if g.rand == nil {
		g.rand = rand.Reader
	}
	if g.now == nil {
		g.now = time.Now
	}
	return g
}

func (g *CodeGenerator) TTL() time.Duration { return g.ttl }

// Generate returns a new record with Used=false.  The only failure is the
// entropy source.
func (g *CodeGenerator) Generate() (store.AccessCodeRecord, error) {
	now := g.now().UTC()

	code, err := g.code()
	if err != nil {
		return store.AccessCodeRecord{}, err
	}

	return store.AccessCodeRecord{
		SessionID: ids.NewAt(now),
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(g.ttl),
	}, nil
}

func (g *CodeGenerator) code() (string, error) {
	radix := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, g.length)
	for i := range buf {
		n, err := rand.Int(g.rand, radix)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
