// Package cli holds the argument handling shared by the volseg drivers.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	log "github.com/sirupsen/logrus"

	"volseg/pkg/config"
)

// Invocation is the parsed command line of a driver
type Invocation struct {
	// Args are the positional arguments
	Args []string

	// Config is the loaded configuration with command line overrides applied
	Config *config.Config
}

// NewFlagSet returns a flag set for a driver's own flags. Parse errors are
// returned to Parse, which exits with status 1.
func NewFlagSet() *flag.FlagSet {
	return flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
}

// Parse parses os.Args for a driver that takes exactly nargs positional
// arguments. Bad flags, -h and a count mismatch print the usage line and
// exit with status 1. fs must come from NewFlagSet or be nil.
func Parse(usage string, nargs int, fs *flag.FlagSet) *Invocation {
	if fs == nil {
		fs = NewFlagSet()
	}
	inv, err := parse(os.Args[0], usage, nargs, fs, os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if inv == nil {
		os.Exit(1)
	}
	return inv
}

func parse(name, usage string, nargs int, fs *flag.FlagSet, argv []string, out io.Writer) (*Invocation, error) {
	configPath := fs.String("config", "", "YAML configuration file")
	numCores := fs.Int("cores", 0, "Number of CPU cores to use (default: from config, all available)")
	verbose := fs.Bool("v", false, "Enable debug logging")
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprintf(out, "Usage: %s [flags] %s\n", name, usage)
		fs.PrintDefaults()
	}

	// the flag set has already printed the error and the usage
	if err := fs.Parse(argv); err != nil {
		return nil, nil
	}

	if fs.NArg() != nargs {
		fmt.Fprintf(out, "Usage: %s %s\n", name, usage)
		return nil, nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return nil, err
	}
	if *numCores > 0 {
		cfg.Processing.NumCores = *numCores
	}
	if cfg.Processing.NumCores < 1 {
		cfg.Processing.NumCores = runtime.NumCPU()
	}
	if *verbose {
		cfg.Output.Verbose = true
	}

	SetupLogging(cfg.Output.Verbose)

	return &Invocation{Args: fs.Args(), Config: cfg}, nil
}

// SetupLogging configures the shared logrus logger
func SetupLogging(verbose bool) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
