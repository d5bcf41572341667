// Package paramfile loads the SSD module's parameter file: a line-oriented
// key/value block grouped into named sections, validated against exactly
// the keys spec.md §6 lists (rejecting anything else) before being turned
// into an internal/ftl.Geometry plus the handful of device-level knobs
// Geometry doesn't carry. Two on-disk formats are supported, mirroring the
// teacher's own split between gopkg.in/ini.v1 (server/conf) and
// github.com/pelletier/go-toml elsewhere in the pack.
package paramfile

import (
	"strings"

	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"

	"github.com/flashbox/ssdsim/internal/ftl"
	"github.com/flashbox/ssdsim/internal/simerr"
)

// Scheduler is the nested "queueing policy for the I/O queue" block.
type Scheduler struct {
	Policy string
}

// Params is everything a parameter file supplies: the device geometry
// plus the device-level knobs that sit outside Geometry.
type Params struct {
	Geometry       ftl.Geometry
	Scheduler      Scheduler
	MaxQueueLength int
	BlockCount     int
	PrintStats     bool
}

// kv is a flattened, section-qualified view of a parameter file, so the
// same validation and assembly logic serves both the INI and TOML
// loaders without duplicating the key table.
type kv map[string]string

// LoadINI reads path as an ini.v1 file. The SSD module lives in the
// "ssd" section, scheduler settings in "ssd.scheduler".
func LoadINI(path string) (*Params, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, simerr.NewConfigurationError("parameter_file", path, "failed to load ini parameter file: "+err.Error())
	}
	values := kv{}
	if sec, err := f.GetSection("ssd"); err == nil {
		for _, key := range sec.Keys() {
			values[key.Name()] = key.Value()
		}
	}
	if sec, err := f.GetSection("ssd.scheduler"); err == nil {
		for _, key := range sec.Keys() {
			values["scheduler."+key.Name()] = key.Value()
		}
	}
	return assemble(values)
}

// LoadTOML reads path as a go-toml document with a top-level [ssd] table
// and a nested [ssd.scheduler] table.
func LoadTOML(path string) (*Params, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, simerr.NewConfigurationError("parameter_file", path, "failed to load toml parameter file: "+err.Error())
	}
	values := kv{}
	ssd, ok := tree.Get("ssd").(*toml.Tree)
	if !ok {
		return nil, simerr.NewConfigurationError("parameter_file", path, "missing [ssd] table")
	}
	for _, key := range ssd.Keys() {
		if _, isTree := ssd.Get(key).(*toml.Tree); isTree {
			continue
		}
		values[key] = toStringValue(ssd.Get(key))
	}
	if sched, ok := ssd.Get("scheduler").(*toml.Tree); ok {
		for _, key := range sched.Keys() {
			values["scheduler."+key] = toStringValue(sched.Get(key))
		}
	}
	return assemble(values)
}

func toStringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return intToString(t)
	case float64:
		return floatToString(t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

// allowedKeys is the exact key set spec.md §6 permits in the ssd section;
// anything else is a configuration error.
var allowedKeys = map[string]bool{
	"max_queue_length":          true,
	"block_count":                true,
	"bus_transaction_latency":    true,
	"bulk_sector_xfer_time":      true,
	"never_disconnect":           true,
	"print_stats":                true,
	"command_overhead":           true,
	"timing_model":               true,
	"flash_chip_elements":        true,
	"page_size":                  true,
	"pages_per_block":            true,
	"blocks_per_element":         true,
	"element_stride_pages":       true,
	"chip_xfer_latency":          true,
	"page_read_latency":          true,
	"page_write_latency":         true,
	"block_erase_latency":        true,
	"write_policy":               true,
	"reserve_pages_percentage":   true,
	"min_free_blocks_percentage": true,
	"cleaning_policy":            true,
	"planes_per_package":         true,
	"blocks_per_plane":           true,
	"plane_block_mapping":        true,
	"copy_back":                  true,
	"number_of_parallel_units":   true,
	"elements_per_gang":          true,
	"cleaning_in_background":     true,
	"gang_share":                 true,
	"allocation_pool_logic":      true,
	"max_erasures":               true,
	"sector_data_bytes":          true,
	"sector_meta_bytes":          true,
}

func assemble(values kv) (*Params, error) {
	for key := range values {
		if strings.HasPrefix(key, "scheduler.") {
			continue
		}
		if !allowedKeys[key] {
			return nil, simerr.NewConfigurationError(key, values[key], "unrecognized ssd parameter key")
		}
	}

	p := &Params{}
	var err error

	p.MaxQueueLength, err = reqInt(values, "max_queue_length", 0, err)
	p.BlockCount, err = reqInt(values, "block_count", 1, err)
	p.Geometry.BusTransactionLatency, err = reqFloat(values, "bus_transaction_latency", err)
	p.Geometry.BulkSectorXferTime, err = reqFloat(values, "bulk_sector_xfer_time", err)
	p.Geometry.NeverDisconnect, err = reqBool(values, "never_disconnect", err)
	p.PrintStats, err = reqBool(values, "print_stats", err)
	p.Geometry.CommandOverhead, err = reqFloat(values, "command_overhead", err)
	p.Geometry.Timing, err = reqTiming(values, "timing_model", err)
	p.Geometry.FlashChipElements, err = reqInt(values, "flash_chip_elements", 1, err)
	p.Geometry.PageSectors, err = reqInt(values, "page_size", 8, err)
	p.Geometry.PagesPerBlock, err = reqInt(values, "pages_per_block", 1, err)
	p.Geometry.BlocksPerElement, err = reqInt(values, "blocks_per_element", 1, err)
	p.Geometry.ElementStridePages, err = reqInt(values, "element_stride_pages", 8, err)
	p.Geometry.ChipXferLatency, err = reqFloat(values, "chip_xfer_latency", err)
	p.Geometry.PageReadLatency, err = reqFloat(values, "page_read_latency", err)
	p.Geometry.PageWriteLatency, err = reqFloat(values, "page_write_latency", err)
	p.Geometry.BlockEraseLatency, err = reqFloat(values, "block_erase_latency", err)
	p.Geometry.WritePolicy, err = reqWritePolicy(values, err)
	p.Geometry.ReservePercent, err = reqIntRange(values, "reserve_pages_percentage", 0, 50, err)
	p.Geometry.MinFreeBlocksPercent, err = reqInt(values, "min_free_blocks_percentage", 0, err)
	p.Geometry.CleanPolicy, err = reqCleanPolicy(values, err)
	p.Geometry.PlanesPerPkg, err = reqIntRange(values, "planes_per_package", 1, 16, err)
	p.Geometry.BlocksPerPlane, err = reqInt(values, "blocks_per_plane", 1, err)
	p.Geometry.PlaneMapping, err = reqPlaneMapping(values, err)
	p.Geometry.CopyBack, err = reqBool(values, "copy_back", err)
	p.Geometry.NumParallelUnits, err = reqInt(values, "number_of_parallel_units", 1, err)
	p.Geometry.ElementsPerGang, err = reqInt(values, "elements_per_gang", 1, err)
	p.Geometry.CleanInBG, err = reqBool(values, "cleaning_in_background", err)
	p.Geometry.GangShare, err = reqGangShare(values, err)
	p.Geometry.AllocPool, err = reqAllocPool(values, err)
	p.Geometry.MaxErasures, err = reqInt(values, "max_erasures", 1, err)
	p.Geometry.SectorDataBytes, err = reqIntDefault(values, "sector_data_bytes", 512, err)
	p.Geometry.SectorMetaBytes, err = reqIntDefault(values, "sector_meta_bytes", 16, err)
	p.Scheduler.Policy = values["scheduler.policy"]
	if p.Scheduler.Policy == "" {
		p.Scheduler.Policy = "fifo"
	}

	if err != nil {
		return nil, err
	}
	if cerr := crossValidate(p); cerr != nil {
		return nil, cerr
	}
	return p, nil
}

func crossValidate(p *Params) error {
	if p.Geometry.BlocksPerElement != p.Geometry.PlanesPerPkg*p.Geometry.BlocksPerPlane {
		return simerr.NewConfigurationError("blocks_per_element", p.Geometry.BlocksPerElement,
			"must equal planes_per_package * blocks_per_plane")
	}
	if p.Geometry.MinFreeBlocksPercent >= p.Geometry.ReservePercent {
		return simerr.NewConfigurationError("min_free_blocks_percentage", p.Geometry.MinFreeBlocksPercent,
			"must be less than reserve_pages_percentage")
	}
	if p.Geometry.PlanesPerPkg%p.Geometry.NumParallelUnits != 0 {
		return simerr.NewConfigurationError("number_of_parallel_units", p.Geometry.NumParallelUnits,
			"must divide planes_per_package")
	}
	if p.Geometry.FlashChipElements%p.Geometry.ElementsPerGang != 0 {
		return simerr.NewConfigurationError("elements_per_gang", p.Geometry.ElementsPerGang,
			"must divide flash_chip_elements")
	}
	if p.Geometry.AllocPool == ftl.AllocPoolPlane && !p.Geometry.CopyBack {
		return simerr.NewConfigurationError("allocation_pool_logic", "PLANE",
			"requires copy_back to be enabled")
	}
	return nil
}
