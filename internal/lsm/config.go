package lsm

import (
	"time"

	"github.com/cuemby/kvaerner/internal/btree"
	"github.com/cuemby/kvaerner/internal/config"
	"github.com/cuemby/kvaerner/internal/reconcile"
)

// Config sizes an LSM tree per its lsm.* config-string knobs.
type Config struct {
	ChunkSize       int64 // primary switches once it reaches this many bytes
	ChunkMax        int64 // parsed from lsm.chunk_max; nothing in this package reads it
	MergeMin        int   // smallest contiguous run a merge pass will rewrite
	MergeMax        int   // largest contiguous run a merge pass will rewrite
	Bloom           bool
	BloomBitCount   uint64
	BloomHashCount  uint64
	ChunkCountLimit int // parsed from lsm.chunk_count_limit; nothing in this package reads it

	ManagerTick time.Duration

	SwitchWorkers int
	FlushWorkers  int
	BloomWorkers  int
	MergeWorkers  int
	DropWorkers   int

	Btree     btree.Config
	Reconcile reconcile.Config
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:       10 * 1024 * 1024,
		ChunkMax:        20 * 1024 * 1024,
		MergeMin:        2,
		MergeMax:        4,
		Bloom:           true,
		BloomBitCount:   8,
		BloomHashCount:  4,
		ChunkCountLimit: 8,
		ManagerTick:     time.Second,
		SwitchWorkers:   1,
		FlushWorkers:    2,
		BloomWorkers:    2,
		MergeWorkers:    2,
		DropWorkers:     1,
		Btree:           btree.DefaultConfig(),
		Reconcile:       reconcile.DefaultConfig(),
	}
}

// ParseConfig overlays lsm.* keys from cfg onto DefaultConfig's
// values. cfg is the same parsed config.Config an lsm: URI's create
// call produces; absent keys keep their default.
func ParseConfig(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.ChunkSize = cfg.Int("lsm.chunk_size", c.ChunkSize)
	c.ChunkMax = cfg.Int("lsm.chunk_max", c.ChunkMax)
	c.MergeMin = int(cfg.Int("lsm.merge_min", int64(c.MergeMin)))
	c.MergeMax = int(cfg.Int("lsm.merge_max", int64(c.MergeMax)))
	c.Bloom = cfg.Bool("lsm.bloom", c.Bloom)
	c.BloomBitCount = uint64(cfg.Int("lsm.bloom_bit_count", int64(c.BloomBitCount)))
	c.BloomHashCount = uint64(cfg.Int("lsm.bloom_hash_count", int64(c.BloomHashCount)))
	c.ChunkCountLimit = int(cfg.Int("lsm.chunk_count_limit", int64(c.ChunkCountLimit)))
	return c
}
