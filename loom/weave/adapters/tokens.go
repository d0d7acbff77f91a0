package adapters

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"unicode/utf8"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultEncoding is the BPE used by the GPT-3 family.
const DefaultEncoding = "p50k_base"

var offlineLoader sync.Once

// TiktokenCounter counts tokens with a BPE encoding bundled into the binary.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads encoding, DefaultEncoding when empty, without network access.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	offlineLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, []string{"all"}, nil))
}

// HeuristicCounter estimates roughly four characters per token.
type HeuristicCounter struct{}

func (HeuristicCounter) CountTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// CachedCounter memoizes another counter through a Cache.
type CachedCounter struct {
	next  ports.TokenCounter
	cache ports.Cache
	ttl   int
}

// NewCachedCounter wraps next; ttlSeconds of 0 keeps entries until evicted.
func NewCachedCounter(next ports.TokenCounter, cache ports.Cache, ttlSeconds int) *CachedCounter {
	return &CachedCounter{next: next, cache: cache, ttl: ttlSeconds}
}

func (c *CachedCounter) CountTokens(text string) int {
	sum := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(sum[:])
	ctx := context.Background()

	if v, ok := c.cache.Get(ctx, key); ok {
		if n, err := strconv.Atoi(string(v)); err == nil {
			return n
		}
	}

	n := c.next.CountTokens(text)
	_ = c.cache.Set(ctx, key, []byte(strconv.Itoa(n)), c.ttl)
	return n
}

var (
	_ ports.TokenCounter = (*TiktokenCounter)(nil)
	_ ports.TokenCounter = HeuristicCounter{}
	_ ports.TokenCounter = (*CachedCounter)(nil)
)
