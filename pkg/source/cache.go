package source

import (
	"context"
	"errors"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"go.uber.org/zap"
)

var txKeyPrefix = []byte("tx:")

// Cache wraps a Source and persists raw transactions in LevelDB. A txid
// commits to its transaction, so entries never expire. Block contents are
// not cached since the block at a height can change near the tip.
type Cache struct {
	src Source
	db  *leveldb.DB
	options
}

// OpenCache opens (or creates) a LevelDB database at path and wraps src.
func OpenCache(path string, src Source, opts ...Option) (*Cache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return NewCache(db, src, opts...), nil
}

// NewCache wraps src with an already open database. The Cache takes
// ownership of db.
func NewCache(db *leveldb.DB, src Source, opts ...Option) *Cache {
	return &Cache{src: src, db: db, options: newOptions(opts)}
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

func txKey(txid string) []byte {
	return append(append([]byte{}, txKeyPrefix...), strings.ToLower(txid)...)
}

// RawTransaction implements Source, consulting the database first.
func (c *Cache) RawTransaction(ctx context.Context, txid string) (string, error) {
	key := txKey(txid)
	val, err := c.db.Get(key, nil)
	switch {
	case err == nil:
		c.lookup("hit")
		return string(val), nil
	case !errors.Is(err, leveldb.ErrNotFound):
		// A broken cache should not stop the walk.
		c.log.Warn("cache read failed", zap.String("txid", txid), zap.Error(err))
	}
	c.lookup("miss")

	hexTx, err := c.src.RawTransaction(ctx, txid)
	if err != nil {
		return "", err
	}
	if err := c.db.Put(key, []byte(hexTx), nil); err != nil {
		c.log.Warn("cache write failed", zap.String("txid", txid), zap.Error(err))
	}
	return hexTx, nil
}

// BlockTxIDs implements Source by delegation.
func (c *Cache) BlockTxIDs(ctx context.Context, height int64) ([]string, error) {
	return c.src.BlockTxIDs(ctx, height)
}

// ScriptSigASM implements ScriptSigSource when the wrapped source does.
func (c *Cache) ScriptSigASM(ctx context.Context, txid string) ([]string, error) {
	inner, ok := c.src.(ScriptSigSource)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return inner.ScriptSigASM(ctx, txid)
}

func (c *Cache) lookup(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
