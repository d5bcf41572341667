package paramfile

import (
	"strconv"

	"github.com/flashbox/ssdsim/internal/ftl"
	"github.com/flashbox/ssdsim/internal/simerr"
)

func intToString(v int64) string   { return strconv.FormatInt(v, 10) }
func floatToString(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// reqInt parses a required integer key with a minimum bound, chaining any
// earlier error through so callers can fire off every field parse without
// an early return per key (the first error wins).
func reqInt(values kv, key string, min int, prior error) (int, error) {
	if prior != nil {
		return 0, prior
	}
	raw, ok := values[key]
	if !ok {
		return 0, simerr.NewConfigurationError(key, "", "missing required parameter")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, simerr.NewConfigurationError(key, raw, "must be an integer")
	}
	if n < min {
		return 0, simerr.NewConfigurationError(key, n, "must be >= "+strconv.Itoa(min))
	}
	return n, nil
}

func reqIntDefault(values kv, key string, def int, prior error) (int, error) {
	if prior != nil {
		return 0, prior
	}
	raw, ok := values[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, simerr.NewConfigurationError(key, raw, "must be an integer")
	}
	return n, nil
}

func reqIntRange(values kv, key string, min, max int, prior error) (int, error) {
	n, err := reqInt(values, key, min, prior)
	if err != nil {
		return 0, err
	}
	if n > max {
		return 0, simerr.NewConfigurationError(key, n, "must be <= "+strconv.Itoa(max))
	}
	return n, nil
}

func reqFloat(values kv, key string, prior error) (float64, error) {
	if prior != nil {
		return 0, prior
	}
	raw, ok := values[key]
	if !ok {
		return 0, simerr.NewConfigurationError(key, "", "missing required parameter")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, simerr.NewConfigurationError(key, raw, "must be a real number")
	}
	if f < 0 {
		return 0, simerr.NewConfigurationError(key, f, "must be >= 0")
	}
	return f, nil
}

func reqBool(values kv, key string, prior error) (bool, error) {
	if prior != nil {
		return false, prior
	}
	raw, ok := values[key]
	if !ok {
		return false, simerr.NewConfigurationError(key, "", "missing required parameter")
	}
	switch raw {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, simerr.NewConfigurationError(key, raw, "must be 0 or 1")
	}
}

func reqTiming(values kv, key string, prior error) (ftl.TimingModel, error) {
	n, err := reqIntRange(values, key, 1, 3, prior)
	if err != nil {
		return 0, err
	}
	return ftl.TimingModel(n), nil
}

func reqWritePolicy(values kv, prior error) (ftl.WritePolicy, error) {
	n, err := reqIntRange(values, "write_policy", 1, 2, prior)
	if err != nil {
		return 0, err
	}
	return ftl.WritePolicy(n), nil
}

func reqCleanPolicy(values kv, prior error) (ftl.CleaningPolicy, error) {
	n, err := reqIntRange(values, "cleaning_policy", 1, 3, prior)
	if err != nil {
		return 0, err
	}
	return ftl.CleaningPolicy(n), nil
}

func reqPlaneMapping(values kv, prior error) (ftl.PlaneMapping, error) {
	n, err := reqIntRange(values, "plane_block_mapping", 1, 3, prior)
	if err != nil {
		return 0, err
	}
	return ftl.PlaneMapping(n), nil
}

func reqGangShare(values kv, prior error) (ftl.GangShare, error) {
	n, err := reqIntRange(values, "gang_share", 1, 2, prior)
	if err != nil {
		return 0, err
	}
	return ftl.GangShare(n), nil
}

func reqAllocPool(values kv, prior error) (ftl.AllocPoolLogic, error) {
	n, err := reqIntRange(values, "allocation_pool_logic", 0, 2, prior)
	if err != nil {
		return 0, err
	}
	return ftl.AllocPoolLogic(n), nil
}

// Override is one CLI "KEY SUBKEY VALUE" triple from spec.md §6's
// trailing override arguments.
type Override struct {
	Key    string
	Subkey string
	Value  string
}

// ApplyOverrides re-runs assembly with each override's value injected
// over whatever the file supplied, so CLI overrides win and are validated
// by the same rules as the file itself.
func ApplyOverrides(p *Params, overrides []Override) (*Params, error) {
	values := paramsToKV(p)
	for _, o := range overrides {
		key := o.Key
		if o.Subkey != "" {
			key = o.Subkey // SSD module has one section; subkey selects the field within it
		}
		values[key] = o.Value
	}
	return assemble(values)
}

func paramsToKV(p *Params) kv {
	g := p.Geometry
	values := kv{
		"max_queue_length":           strconv.Itoa(p.MaxQueueLength),
		"block_count":                strconv.Itoa(p.BlockCount),
		"bus_transaction_latency":    floatToString(g.BusTransactionLatency),
		"bulk_sector_xfer_time":      floatToString(g.BulkSectorXferTime),
		"never_disconnect":           boolToString(g.NeverDisconnect),
		"print_stats":                boolToString(p.PrintStats),
		"command_overhead":           floatToString(g.CommandOverhead),
		"timing_model":               strconv.Itoa(int(g.Timing)),
		"flash_chip_elements":        strconv.Itoa(g.FlashChipElements),
		"page_size":                  strconv.Itoa(g.PageSectors),
		"pages_per_block":            strconv.Itoa(g.PagesPerBlock),
		"blocks_per_element":         strconv.Itoa(g.BlocksPerElement),
		"element_stride_pages":       strconv.Itoa(g.ElementStridePages),
		"chip_xfer_latency":          floatToString(g.ChipXferLatency),
		"page_read_latency":          floatToString(g.PageReadLatency),
		"page_write_latency":         floatToString(g.PageWriteLatency),
		"block_erase_latency":        floatToString(g.BlockEraseLatency),
		"write_policy":               strconv.Itoa(int(g.WritePolicy)),
		"reserve_pages_percentage":   strconv.Itoa(g.ReservePercent),
		"min_free_blocks_percentage": strconv.Itoa(g.MinFreeBlocksPercent),
		"cleaning_policy":            strconv.Itoa(int(g.CleanPolicy)),
		"planes_per_package":         strconv.Itoa(g.PlanesPerPkg),
		"blocks_per_plane":           strconv.Itoa(g.BlocksPerPlane),
		"plane_block_mapping":        strconv.Itoa(int(g.PlaneMapping)),
		"copy_back":                  boolToString(g.CopyBack),
		"number_of_parallel_units":   strconv.Itoa(g.NumParallelUnits),
		"elements_per_gang":          strconv.Itoa(g.ElementsPerGang),
		"cleaning_in_background":     boolToString(g.CleanInBG),
		"gang_share":                 strconv.Itoa(int(g.GangShare)),
		"allocation_pool_logic":      strconv.Itoa(int(g.AllocPool)),
		"max_erasures":               strconv.Itoa(g.MaxErasures),
		"sector_data_bytes":          strconv.Itoa(g.SectorDataBytes),
		"sector_meta_bytes":          strconv.Itoa(g.SectorMetaBytes),
	}
	if p.Scheduler.Policy != "" {
		values["scheduler.policy"] = p.Scheduler.Policy
	}
	return values
}

func boolToString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
