package engine

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/levelkv/lib/common"
	"github.com/ValentinKolb/levelkv/lib/level"
)

// Config holds the accelerator parameters
type Config struct {
	// Level is the table level the host was started with
	Level uint64
	// CacheSize is the number of bucket frames
	CacheSize int
	// Partitions is the number of transport partitions per table level
	Partitions int
	// Hasher names the two-hash scheme (siphash, xxhash or fnv)
	Hasher string
	// MaxLoadFactor is the fill ratio that triggers an automatic expansion
	MaxLoadFactor float64
	// AutoExpand enables expansions triggered by the load factor or a full insert
	AutoExpand bool
	// Timeout bounds the handshake and every wait for a host response
	Timeout time.Duration
}

// DefaultConfig returns the configuration used by the CLI defaults
func DefaultConfig() Config {
	return Config{
		Level:         10,
		CacheSize:     256,
		Partitions:    2,
		Hasher:        "siphash",
		MaxLoadFactor: 0.85,
		AutoExpand:    true,
		Timeout:       10 * time.Second,
	}
}

// Validate checks the configuration and returns the initial layout
func (c *Config) Validate() (level.Layout, error) {
	layout, err := level.NewLayout(c.Level)
	if err != nil {
		return layout, err
	}
	if err := layout.ValidatePartitions(c.Partitions); err != nil {
		return layout, err
	}
	if c.CacheSize < level.Assoc {
		return layout, fmt.Errorf("cache size must be at least %d frames, got %d", level.Assoc, c.CacheSize)
	}
	if c.MaxLoadFactor <= 0 || c.MaxLoadFactor > 1 {
		return layout, fmt.Errorf("max load factor must be in (0, 1], got %.2f", c.MaxLoadFactor)
	}
	if c.Timeout <= 0 {
		return layout, fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return layout, nil
}

// String returns a formatted string representation of the configuration
func (c *Config) String() string {
	var w common.ConfigWriter

	w.Section("Table")
	w.Field("Start Level", c.Level)
	w.Field("Hasher", c.Hasher)
	w.Field("Max Load Factor", fmt.Sprintf("%.2f", c.MaxLoadFactor))
	w.Field("Auto Expand", c.AutoExpand)

	w.Section("Cache")
	w.Field("Frames", c.CacheSize)
	w.Field("Partitions per Level", c.Partitions)

	w.Section("Control Channel")
	w.Field("Timeout", c.Timeout)
	return w.String()
}
