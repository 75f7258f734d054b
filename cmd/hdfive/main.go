package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/marmos91/hdfive/internal/logger"
	"github.com/marmos91/hdfive/pkg/config"
	"github.com/marmos91/hdfive/pkg/engine"
	"github.com/marmos91/hdfive/pkg/file"
)

// seedInitialStructure fills a freshly opened container with a small demo
// hierarchy so there is something to look at with -dump.
func seedInitialStructure(f *file.File) error {
	meas, err := f.CreateGroup("measurements")
	if err != nil {
		return fmt.Errorf("failed to create measurements group: %w", err)
	}
	if err := meas.SetAttr("instrument", file.StringValue("demo-rig")); err != nil {
		return fmt.Errorf("failed to set instrument attribute: %w", err)
	}

	// Create fixed-size datasets with a recognizable fill pattern
	datasets := []struct {
		name  string
		dtype string
		shape []uint64
		units string
		fill  byte
	}{
		{"temperature", "f8", []uint64{16}, "kelvin", 0x40},
		{"pressure", "f4", []uint64{16}, "pascal", 0x3f},
		{"frame", "u1", []uint64{8, 8}, "", 0x7f},
	}

	for _, ds := range datasets {
		d, err := meas.CreateDataset(ds.name, file.DatasetSpec{Dtype: ds.dtype, Shape: ds.shape})
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", ds.name, err)
		}
		if err := d.Fill(ds.fill); err != nil {
			return fmt.Errorf("failed to fill %s: %w", ds.name, err)
		}
		if ds.units != "" {
			if err := d.SetAttr("units", file.StringValue(ds.units)); err != nil {
				return fmt.Errorf("failed to set units on %s: %w", ds.name, err)
			}
		}
	}

	// Create a variable-length notes dataset in the root
	notes, err := f.CreateDataset("notes", file.DatasetSpec{Dtype: "bytes"})
	if err != nil {
		return fmt.Errorf("failed to create notes: %w", err)
	}
	if err := notes.SetBytes([]byte("Demo container created by hdfive -seed.\n")); err != nil {
		return fmt.Errorf("failed to write notes: %w", err)
	}

	if err := f.SetAttr("description", file.StringValue("hdfive demo container")); err != nil {
		return fmt.Errorf("failed to set description attribute: %w", err)
	}

	return nil
}

// dumpNode is one object in the -dump listing.
type dumpNode struct {
	Kind     string               `yaml:"kind" json:"kind"`
	Dtype    string               `yaml:"dtype,omitempty" json:"dtype,omitempty"`
	Shape    []uint64             `yaml:"shape,omitempty" json:"shape,omitempty"`
	Size     int                  `yaml:"size,omitempty" json:"size,omitempty"`
	Attrs    map[string]any       `yaml:"attrs,omitempty" json:"attrs,omitempty"`
	Children map[string]*dumpNode `yaml:"children,omitempty" json:"children,omitempty"`
}

func dumpTree(f *file.File, format string) error {
	root, err := collectGroup(f.Root())
	if err != nil {
		return err
	}

	var out []byte
	switch format {
	case "yaml":
		out, err = yaml.Marshal(root)
	case "json":
		out, err = json.MarshalIndent(root, "", "  ")
	default:
		return fmt.Errorf("unknown dump format %q (expected yaml or json)", format)
	}
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(out)
	return err
}

func collectGroup(g *file.Group) (*dumpNode, error) {
	node := &dumpNode{Kind: "group"}

	attrs, err := g.Attrs()
	if err != nil {
		return nil, err
	}
	node.Attrs = attrMap(attrs)

	names, err := g.Children()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		child, err := collectChild(g, name)
		if err != nil {
			return nil, err
		}
		if node.Children == nil {
			node.Children = make(map[string]*dumpNode)
		}
		node.Children[name] = child
	}

	return node, nil
}

func collectChild(g *file.Group, name string) (*dumpNode, error) {
	sub, err := g.OpenGroup(name)
	if err == nil {
		return collectGroup(sub)
	}
	if !file.IsKind(err, file.KindInvalidArgument) {
		return nil, err
	}

	ds, err := g.OpenDataset(name)
	if err == nil {
		return collectDataset(ds)
	}
	if !file.IsKind(err, file.KindInvalidArgument) {
		return nil, err
	}

	// Neither a group nor a dataset. Report the link without resolving it,
	// so dangling targets do not break the listing.
	return &dumpNode{Kind: "link"}, nil
}

func collectDataset(d *file.Dataset) (*dumpNode, error) {
	node := &dumpNode{Kind: "dataset"}

	dtype, err := d.Dtype()
	if err != nil {
		return nil, err
	}
	node.Dtype = dtype

	shape, err := d.Shape()
	if err != nil {
		return nil, err
	}
	node.Shape = shape

	raw, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	node.Size = len(raw)

	attrs, err := d.Attrs()
	if err != nil {
		return nil, err
	}
	node.Attrs = attrMap(attrs)

	return node, nil
}

func attrMap(attrs []file.Attribute) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		switch a.Value.Kind {
		case engine.AttrString:
			m[a.Name] = a.Value.Str
		case engine.AttrInt:
			m[a.Name] = a.Value.Int
		case engine.AttrFloat:
			m[a.Name] = a.Value.Float
		default:
			m[a.Name] = a.Value.Bytes
		}
	}
	return m
}

func configureLogOutput(output string) error {
	switch output {
	case "", "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		w, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log output %s: %w", output, err)
		}
		logger.SetOutput(w)
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	logLevel := flag.String("log-level", "", "Log level (DEBUG, INFO, WARN, ERROR); overrides the config file")
	mode := flag.String("mode", "", `Open mode: "r", "r+", "w", "w-", "x" or "a" (default decides from the file state)`)
	driverName := flag.String("driver", "", "Storage driver; overrides the config file")
	userblock := flag.Uint64("userblock", 0, "Userblock size in bytes for creates (0, or a power of two >= 512)")
	seed := flag.Bool("seed", false, "Create a demo group and dataset structure")
	dump := flag.String("dump", "", `Print the object tree to stdout and exit ("yaml" or "json")`)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <container path>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags override the configuration file
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *driverName != "" {
		cfg.Engine.Driver = *driverName
	}
	if *userblock != 0 {
		cfg.Engine.Userblock = *userblock
	}

	logger.SetLevel(cfg.Logging.Level)
	if err := configureLogOutput(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	if *dump == "" {
		fmt.Println("HDFive - Hierarchical Data Container Tool")
	}
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, metricsResult, err := config.NewEngine(cfg)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	// Start metrics server in background when enabled
	var serverDone chan error
	if metricsResult.Server != nil {
		serverDone = make(chan error, 1)
		go func() {
			serverDone <- metricsResult.Server.Start(ctx)
		}()
	}

	f, err := file.Open(ctx, eng, path, *mode, config.DefaultOpenOptions(cfg))
	if err != nil {
		log.Fatalf("Failed to open %s: %v", path, err)
	}

	logger.Info("Opened %s", f)
	logger.Info("  Driver: %s", f.Driver())
	logger.Info("  Mode: %s", f.Mode())
	libver := f.Libver()
	logger.Info("  Libver: %s..%s", libver.Low, libver.High)
	logger.Info("  Strategy: %s", f.Strategy().Strategy)
	if f.UserblockSize() > 0 {
		logger.Info("  Userblock: %d bytes", f.UserblockSize())
	}

	if *seed {
		if err := seedInitialStructure(f); err != nil {
			log.Fatalf("Failed to create demo structure: %v", err)
		}
		logger.Info("Demo structure created")
	}

	if *dump != "" {
		if err := dumpTree(f, *dump); err != nil {
			log.Fatalf("Failed to dump %s: %v", path, err)
		}
	}

	if err := f.Close(ctx); err != nil {
		log.Fatalf("Failed to close %s: %v", path, err)
	}

	// Without the metrics server there is nothing left to wait for
	if serverDone == nil {
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Metrics server is running on port %d. Press Ctrl+C to stop.", metricsResult.Server.Port())

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, stopping metrics server...")
		cancel()
		if err := <-serverDone; err != nil {
			logger.Error("Metrics server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Metrics server stopped")

	case err := <-serverDone:
		if err != nil {
			logger.Error("Metrics server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Metrics server stopped")
	}
}
