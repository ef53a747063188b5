// Command-line interface to the density server.
// Provides the commands to pack density maps, query packed files locally and serve them over HTTP.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/densityserver/density"
	"github.com/janelia-flyem/densityserver/format"
	"github.com/janelia-flyem/densityserver/pack"
	"github.com/janelia-flyem/densityserver/query"
	"github.com/janelia-flyem/densityserver/server"
	"github.com/janelia-flyem/densityserver/storage"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Block edge length of packed files.
	blockSize = flag.Int("blocksize", pack.DefaultBlockSize, "")

	// Kind of data being packed: xray data may be periodic, em data never is.
	packMode = flag.String("mode", "xray", "")

	// Number of concurrent bulk pack workers.
	numWorkers = flag.Int("workers", 0, "")

	// Box space for local queries.
	boxSpace = flag.String("space", "cartesian", "")

	// Output encoding for local queries.
	encoding = flag.String("encoding", "cif", "")

	// Detail level for local queries.
	detail = flag.Int("detail", 0, "")

	// Forced sampling level (1-based) for local queries.
	forcedLevel = flag.Int("forcedlevel", 0, "")

	// Output file for local queries.  Leave unset for stdout.
	outFile = flag.String("out", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Number of logical CPUs to use.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
densityserver packs crystallographic and electron microscopy density maps into
block-structured files and serves sub-regions of them over HTTP.

Usage: densityserver [options] <command>

      -blocksize   =number   Block edge length for packing (default 96).
      -mode        =string   "xray" (periodic if the map covers one unit cell) or "em".
      -workers     =number   Number of concurrent workers for bulk packing.
      -space       =string   Box space for queries: cartesian or fractional.
      -encoding    =string   Query output: cif or bcif.
      -detail      =number   Query detail level.
      -forcedlevel =number   Query a specific sampling level, 1 is the finest.
      -out         =string   Write query output to this file instead of stdout.
      -cpuprofile  =string   Write CPU profile to this file.
      -numcpu      =number   Number of logical CPUs to use.
      -verbose     (flag)    Run in verbose mode.
  -h, -help        (flag)    Show help message

Commands:

	about
	help
	serve  <config.toml>
	pack   <output> <input map> [<input map> ...]
	bulk   <manifest.json>
	header <packed file>
	query  <packed file> cell
	query  <packed file> <a1,a2,a3> <b1,b2,b3>
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() { fmt.Print(helpMessage) }
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}
	if *runVerbose {
		density.SetLogMode(density.DebugMode)
	}

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}
	if *useCPU != 0 {
		runtime.GOMAXPROCS(*useCPU)
	}

	// Capture ctrl+c and other interrupts.  Then cancel running work.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := DoCommand(ctx, flag.Args())
	density.Shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		if *cpuprofile != "" {
			pprof.StopCPUProfile()
		}
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("blank command")
	}
	switch args[0] {
	case "about":
		fmt.Printf("densityserver %s, packed format %s\n", server.Version, format.Version)
		return nil
	case "serve":
		return DoServe(ctx, args[1:])
	case "pack":
		return DoPack(ctx, args[1:])
	case "bulk":
		return DoBulk(ctx, args[1:])
	case "header":
		return DoHeader(ctx, args[1:])
	case "query":
		return DoQuery(ctx, args[1:])
	}
	return fmt.Errorf("unknown command %q, try 'densityserver help'", args[0])
}

// DoServe runs the web server until interrupted.
func DoServe(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("serve requires a TOML configuration file")
	}
	c, err := server.LoadConfig(args[0])
	if err != nil {
		return err
	}
	if err := c.Logging.SetLogger(); err != nil {
		return err
	}
	if *runVerbose {
		density.SetLogMode(density.DebugMode)
	}
	density.Infof("Serving %d sources using %d logical CPUs\n", len(c.IDMap), runtime.GOMAXPROCS(0))
	return server.New(c).Serve(ctx)
}

func periodicMode() (bool, error) {
	switch strings.ToLower(*packMode) {
	case "xray", "x-ray":
		return true, nil
	case "em":
		return false, nil
	}
	return false, fmt.Errorf("unknown pack mode %q, expected xray or em", *packMode)
}

// DoPack packs one or more maps into a single packed file, one channel per map.
func DoPack(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("pack requires an output and at least one input map")
	}
	periodic, err := periodicMode()
	if err != nil {
		return err
	}
	opts := pack.Options{
		Output:    args[0],
		BlockSize: *blockSize,
		Periodic:  periodic,
		Progress: func(done, total int) {
			density.Debugf("packed %d/%d slices\n", done, total)
		},
	}
	h, err := pack.PackFiles(ctx, args[1:], opts)
	if err != nil {
		return err
	}
	fmt.Printf("Packed %s: %d channels, %d sampling levels, %s values\n", args[0], len(h.Channels), len(h.Sampling), h.ValueType)
	return nil
}

// DoBulk packs every job of a JSON manifest.
func DoBulk(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("bulk requires a manifest file")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	jobs, err := pack.ParseManifest(data, filepath.Dir(args[0]))
	if err != nil {
		return err
	}
	workers := *numWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	summary := pack.Bulk(ctx, jobs, workers, nil)
	fmt.Printf("Packed %d of %d jobs in %s\n", summary.Succeeded, len(jobs), summary.Elapsed)
	if n := len(summary.Failed); n != 0 {
		for name, err := range summary.Failed {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", name, err)
		}
		return fmt.Errorf("%d bulk jobs failed", n)
	}
	return nil
}

// DoHeader prints the header of a packed file.
func DoHeader(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("header requires a packed file")
	}
	r, err := storage.Open(ctx, args[0])
	if err != nil {
		return err
	}
	defer r.Close()
	size := r.Size()
	h, err := format.Decode(r, size)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s), format %s\n", args[0], humanize.Bytes(uint64(size)), h.FormatVersion)
	fmt.Printf("  channels:   %s\n", strings.Join(h.Channels, ", "))
	fmt.Printf("  value type: %s, block size %d\n", h.ValueType, h.BlockSize)
	fmt.Printf("  axis order: %v, periodic %t\n", h.AxisOrder, h.SpaceGroup.IsPeriodic)
	for i, s := range h.Sampling {
		blocks := h.DataDomain(i).Blocks(h.BlockSize).SampleCount
		fmt.Printf("  level %d: rate %d, samples %v, blocks %v\n", i+1, s.Rate, s.SampleCount, blocks)
	}
	return nil
}

// DoQuery runs a query against a packed file without a server.
func DoQuery(ctx context.Context, args []string) error {
	var box density.QueryBox
	switch {
	case len(args) == 2 && args[1] == "cell":
		box = density.CellBox{}
	case len(args) == 3:
		a, err := density.ParseCorner(args[1])
		if err != nil {
			return err
		}
		b, err := density.ParseCorner(args[2])
		if err != nil {
			return err
		}
		if box, err = density.ParseQueryBox(*boxSpace, a, b); err != nil {
			return err
		}
	default:
		return fmt.Errorf("query requires a packed file and either 'cell' or two box corners")
	}

	w := os.Stdout
	if *outFile != "" {
		f, err := os.Create(*outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	e := &query.Executor{Limits: query.DefaultLimits(), ServerVersion: server.Version}
	p := query.Params{
		SourceID:    filepath.Base(args[0]),
		Ref:         args[0],
		Box:         box,
		Detail:      *detail,
		ForcedLevel: *forcedLevel,
		Binary:      *encoding == "bcif",
	}
	outcome, err := e.Execute(ctx, p, w)
	if err != nil {
		return err
	}
	density.Infof("query %s: %s at level %d\n", outcome.GUID, outcome.Kind, outcome.Level)
	if outcome.Err != nil {
		return outcome.Err
	}
	return nil
}
