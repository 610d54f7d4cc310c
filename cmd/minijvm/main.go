// minijvm runs the main method of a compiled Java class.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/daimatz/minijvm/internal/config"
	"github.com/daimatz/minijvm/pkg/classfile"
	"github.com/daimatz/minijvm/pkg/disasm"
	"github.com/daimatz/minijvm/pkg/memory"
	"github.com/daimatz/minijvm/pkg/native"
	"github.com/daimatz/minijvm/pkg/vm"
)

var log = commonlog.GetLogger("minijvm")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	classPath  string
	configPath string
	jmod       string
	verbosity  int
	logPath    string
	trace      bool
	maxDepth   int
	maxHeap    int64
	dump       bool
	metrics    bool
	snapshot   string

	set map[string]bool // flags given on the command line
}

func parseFlags(args []string, stderr io.Writer) (*options, []string, error) {
	fs := flag.NewFlagSet("minijvm", flag.ContinueOnError)
	fs.SetOutput(stderr)
	o := &options{}
	fs.StringVar(&o.classPath, "cp", "", "Class path (list separated by "+string(os.PathListSeparator)+"); overrides the config file")
	fs.StringVar(&o.configPath, "config", "", "Config file (default: nearest "+config.FileName+")")
	fs.StringVar(&o.jmod, "jmod", "", "Path to java.base.jmod")
	fs.IntVar(&o.verbosity, "v", 0, "Log verbosity (-1 silences logging)")
	fs.StringVar(&o.logPath, "log", "", "Write the log to this file instead of stderr")
	fs.BoolVar(&o.trace, "trace", false, "Log every executed instruction (needs -v 2)")
	fs.IntVar(&o.maxDepth, "max-depth", 0, "Maximum call stack depth")
	fs.Int64Var(&o.maxHeap, "max-heap", 0, "Maximum array elements the program may allocate")
	fs.BoolVar(&o.dump, "dump", false, "Disassemble the class instead of running it")
	fs.BoolVar(&o.metrics, "metrics", false, "Print execution metrics to stderr after the run")
	fs.StringVar(&o.snapshot, "snapshot", "", "On interrupt, write the main thread's state to this file (CBOR)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: minijvm [options] <Class.class | class name> [args...]\n\n")
		fmt.Fprintf(stderr, "Runs the main method of a class. Library classes (java/...) are\n")
		fmt.Fprintf(stderr, "served by built-in bindings.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  minijvm Hello.class              # Run Hello from its directory\n")
		fmt.Fprintf(stderr, "  minijvm -cp out:lib/app.jar app.Main a b\n")
		fmt.Fprintf(stderr, "  minijvm -dump Hello.class        # javap-style listing\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return nil, nil, errors.New("missing class")
	}
	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, fs.Args(), nil
}

func loadConfig(o *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if o.set["cp"] {
		cfg.ClassPath = filepath.SplitList(o.classPath)
		cfg.Dir = ""
	}
	if o.set["jmod"] {
		cfg.Jmod = o.jmod
	}
	if o.set["v"] {
		cfg.Log.Verbosity = o.verbosity
	}
	if o.set["log"] {
		cfg.Log.Path = o.logPath
	}
	if o.set["trace"] {
		cfg.Trace = o.trace
	}
	if o.set["max-depth"] {
		cfg.MaxFrameDepth = o.maxDepth
	}
	if o.set["max-heap"] {
		cfg.MaxHeap = o.maxHeap
	}
	return cfg, cfg.Validate()
}

// target splits the class argument into a class path entry to prepend
// (for a .class file) and an internal class name.
func target(arg string) (dir, className string) {
	if strings.HasSuffix(arg, ".class") {
		return filepath.Dir(arg), strings.TrimSuffix(filepath.Base(arg), ".class")
	}
	return "", strings.ReplaceAll(arg, ".", "/")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	o, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var logPath *string
	if cfg.Log.Path != "" {
		logPath = &cfg.Log.Path
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	dir, className := target(rest[0])
	classPath := cfg.ClassPathDirs()
	if dir != "" {
		classPath = append([]string{dir}, classPath...)
	}
	decoder := &classfile.Decoder{MinMajorVersion: cfg.Version.Min, MaxMajorVersion: cfg.Version.Max}

	var bootstrap vm.ClassLoader
	if jmod := cfg.JmodPath(); jmod != "" {
		a := vm.NewArchiveClassLoader(jmod, cfg.ClassCacheSize)
		a.Decoder = decoder
		bootstrap = a
		log.Debugf("bootstrap classes from %s", jmod)
	} else {
		log.Notice("java.base.jmod not found; library hierarchy limited to built-ins")
	}
	loader := vm.NewUserClassLoader(classPath, bootstrap, decoder, cfg.ClassCacheSize)

	if o.dump {
		cf, err := loader.LoadClass(className)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := disasm.WriteClass(stdout, cf); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	reg := prometheus.NewRegistry()
	machine := vm.NewVM(vm.NewRegistry(loader),
		vm.WithNatives(native.New(stdout, stderr)),
		vm.WithMaxFrameDepth(cfg.MaxFrameDepth),
		vm.WithMaxHeap(cfg.MaxHeap),
		vm.WithRegisterer(reg),
		vm.WithTrace(cfg.Trace),
	)

	res, err := machine.Execute(ctx, className, rest[1:])
	code := exitCode(res, err, stderr)
	if ctx.Err() != nil && o.snapshot != "" {
		if err := writeSnapshot(machine, o.snapshot); err != nil {
			fmt.Fprintf(stderr, "Error: snapshot: %v\n", err)
			code = 1
		} else {
			fmt.Fprintf(stderr, "Thread state written to %s\n", o.snapshot)
		}
	}
	if o.metrics {
		if err := writeMetrics(stderr, reg); err != nil {
			fmt.Fprintf(stderr, "Error: metrics: %v\n", err)
		}
	}
	return code
}

func exitCode(res *vm.Result, err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	var uerr *vm.UncaughtError
	switch {
	case errors.As(err, &uerr):
		fmt.Fprintln(stderr, uerr.Error())
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(stderr, "Interrupted")
		return 130
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	if res != nil && res.Status == memory.StatusFaulted {
		return 3
	}
	return 1
}

func writeSnapshot(machine *vm.VM, path string) error {
	for _, t := range machine.Threads() {
		if t.Name != "main" || t.Status().Terminal() {
			continue
		}
		s, err := t.Snapshot()
		if err != nil {
			return err
		}
		data, err := memory.MarshalSnapshot(s)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0644)
	}
	return errors.New("no running main thread")
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
