package engine

import (
	"fmt"

	"github.com/ValentinKolb/levelkv/lib/common"
	"github.com/ValentinKolb/levelkv/lib/transport"
	"github.com/ValentinKolb/levelkv/lib/util"
)

// Info is a snapshot of the table and cache state
type Info struct {
	Level          uint64
	AddrCapacity   uint64
	BottomCapacity uint64
	TotalCapacity  uint64
	Items          int64
	LoadFactor     float64
	State          State
	Expansions     uint64

	Frames    int
	Resident  int
	Dirty     int
	Occupancy util.DistributionStats

	Partitions []transport.PartitionStats
}

func (e *Engine) info() Info {
	layout := e.cache.Layout()
	stats := e.cache.Stats()
	return Info{
		Level:          layout.Level,
		AddrCapacity:   layout.AddrCapacity,
		BottomCapacity: layout.BottomCapacity,
		TotalCapacity:  layout.TotalCapacity(),
		Items:          e.items.Load(),
		LoadFactor:     e.loadFactor(),
		State:          e.State(),
		Expansions:     e.expansions.Get(),
		Frames:         stats.Frames,
		Resident:       stats.Resident,
		Dirty:          stats.Dirty,
		Occupancy:      stats.Occupancy,
		Partitions:     e.cache.PartitionStats(),
	}
}

func (i Info) String() string {
	var w common.ConfigWriter

	w.Section("Table")
	w.Field("Level", i.Level)
	w.Field("Top Buckets", i.AddrCapacity)
	w.Field("Bottom Buckets", i.BottomCapacity)
	w.Field("Capacity", i.TotalCapacity)
	w.Field("Items", i.Items)
	w.Field("Load Factor", fmt.Sprintf("%.3f", i.LoadFactor))
	w.Field("State", i.State)
	w.Field("Expansions", i.Expansions)

	w.Section("Cache")
	w.Field("Frames", i.Frames)
	w.Field("Resident", i.Resident)
	w.Field("Dirty", i.Dirty)
	w.Field("Mean Occupancy", fmt.Sprintf("%.2f", i.Occupancy.Mean))
	w.Field("Distribution Quality", fmt.Sprintf("%.2f", i.Occupancy.DistributionQuality))

	w.Section("Partitions")
	for _, p := range i.Partitions {
		w.Field(p.Name, p.String())
	}
	return w.String()
}
