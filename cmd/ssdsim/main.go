// Command ssdsim is the trace-driven SSD simulator's entry point: it
// loads a parameter file, opens a trace, applies any trailing KEY SUBKEY
// VALUE overrides, runs the simulation to completion, and writes a
// summary to OUT_FILE, per spec.md §6's command-line contract:
//
//	ssdsim PARAM_FILE OUT_FILE TRACE_FORMAT TRACE_FILE SYNTHGEN [KEY SUBKEY VALUE]*
//
// TRACE_FORMAT is "ascii" or "binary". SYNTHGEN is accepted and ignored
// (synthetic trace generation is out of scope; only recorded traces are
// read), matching spec.md's OUT OF SCOPE note for the core itself.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/flashbox/ssdsim/internal/obslog"
	"github.com/flashbox/ssdsim/internal/paramfile"
	"github.com/flashbox/ssdsim/internal/sim"
	"github.com/flashbox/ssdsim/internal/simerr"
	"github.com/flashbox/ssdsim/internal/tracefmt"
)

const usage = `usage: ssdsim PARAM_FILE OUT_FILE TRACE_FORMAT TRACE_FILE SYNTHGEN [KEY SUBKEY VALUE]...

  PARAM_FILE     parameter file (.ini or .toml, by extension)
  OUT_FILE       path to write the run summary to
  TRACE_FORMAT   ascii | binary
  TRACE_FILE     request-trace file to replay
  SYNTHGEN       accepted, currently unused
  KEY SUBKEY VALUE  zero or more trailing parameter overrides
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is main's testable body: it never calls os.Exit itself, so a
// recovered obslog.Fatalf panic and a plain argument error both collapse
// to the same exit-code mapping.
func run(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "ssdsim: fatal:", r)
			code = 1
		}
	}()

	if err := obslog.Init(obslog.Config{Level: "info"}); err != nil {
		fmt.Fprintln(os.Stderr, "ssdsim: failed to initialize logging:", err)
		return 1
	}

	cfg, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ssdsim:", err)
		fmt.Fprint(os.Stderr, usage)
		return 1
	}

	if err := runSimulation(cfg); err != nil {
		obslog.Errorf("run failed: %v", err)
		if se, ok := err.(*simerr.Error); ok {
			fmt.Fprintf(os.Stderr, "ssdsim: %s error: %v\n", se.Kind, se)
		} else {
			fmt.Fprintln(os.Stderr, "ssdsim:", err)
		}
		return 1
	}
	return 0
}

// config holds one invocation's fully-parsed command line.
type config struct {
	ParamFile   string
	OutFile     string
	TraceFormat string
	TraceFile   string
	Overrides   []paramfile.Override
}

func parseArgs(args []string) (*config, error) {
	if len(args) < 5 {
		return nil, fmt.Errorf("expected at least 5 positional arguments, got %d", len(args))
	}
	cfg := &config{
		ParamFile:   args[0],
		OutFile:     args[1],
		TraceFormat: strings.ToLower(args[2]),
		TraceFile:   args[3],
		// args[4] is SYNTHGEN, accepted and ignored.
	}
	if cfg.TraceFormat != "ascii" && cfg.TraceFormat != "binary" {
		return nil, fmt.Errorf("unknown TRACE_FORMAT %q (want ascii or binary)", args[2])
	}

	rest := args[5:]
	if len(rest)%3 != 0 {
		return nil, fmt.Errorf("trailing overrides must come in KEY SUBKEY VALUE triples, got %d extra arguments", len(rest))
	}
	for i := 0; i < len(rest); i += 3 {
		cfg.Overrides = append(cfg.Overrides, paramfile.Override{
			Key:    rest[i],
			Subkey: rest[i+1],
			Value:  rest[i+2],
		})
	}
	return cfg, nil
}

func runSimulation(cfg *config) error {
	params, err := loadParams(cfg.ParamFile)
	if err != nil {
		return err
	}
	if len(cfg.Overrides) > 0 {
		params, err = paramfile.ApplyOverrides(params, cfg.Overrides)
		if err != nil {
			return err
		}
	}

	traceFile, err := os.Open(cfg.TraceFile)
	if err != nil {
		return simerr.NewTraceError("opening trace file", err)
	}
	defer traceFile.Close()

	var source tracefmt.Source
	if cfg.TraceFormat == "binary" {
		source = tracefmt.NewBinaryReader(traceFile)
	} else {
		source = tracefmt.NewASCIIReader(traceFile)
	}

	s, err := sim.New(params, source, 1)
	if err != nil {
		return err
	}

	if err := s.Run(); err != nil {
		return err
	}

	return writeSummary(cfg.OutFile, s.Result())
}

// loadParams picks the loader by PARAM_FILE's extension, the same split
// the teacher's own parameter-file handling observes between its ini.v1
// config and the pack's go-toml dependency.
func loadParams(path string) (*paramfile.Params, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return paramfile.LoadTOML(path)
	default:
		return paramfile.LoadINI(path)
	}
}

func writeSummary(path string, res sim.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return simerr.NewConfigurationError("out_file", path, "failed to create: "+err.Error())
	}
	defer f.Close()

	lines := []string{
		"final_clock_time " + strconv.FormatFloat(res.FinalClock, 'g', -1, 64),
		"completed_requests " + strconv.Itoa(res.CompletedCount),
		"trace_exhausted " + strconv.FormatBool(res.TraceExhausted),
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return err
		}
	}
	return nil
}
