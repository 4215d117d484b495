package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AnishMulay/sandsampler/internal/bridge"
	"github.com/AnishMulay/sandsampler/internal/communication"
	"github.com/AnishMulay/sandsampler/internal/config"
	"github.com/AnishMulay/sandsampler/internal/controller"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/log_service/localdisc"
	"github.com/AnishMulay/sandsampler/internal/log_service/zaplog"
	"github.com/AnishMulay/sandsampler/servers/worker"

	"github.com/google/uuid"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s worker|qc [flags] [files...]\n", os.Args[0])
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	switch os.Args[1] {
	case "worker":
		runWorker(os.Args[2:])
	case "qc":
		runQC(os.Args[2:])
	default:
		usage()
	}
}

func runWorker(args []string) {
	fs := flag.NewFlagSet("worker", flag.ExitOnError)
	var (
		configPath = fs.String("config", "./sandsampler.yaml", "Config file")
		nodeID     = fs.String("node-id", "", "Node ID (random if empty)")
		listen     = fs.String("listen", "", "Listen address (overrides config)")
	)
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listen != "" {
		cfg.Worker.Listen = *listen
	}
	if *nodeID == "" {
		*nodeID = uuid.NewString()
	}

	console := zaplog.NewZapLogService(os.Stderr, *nodeID, cfg.Log.Level, cfg.Log.Format)
	defer console.Sync()
	disk, err := localdisc.NewLocalDiscLogService(cfg.Log.Dir, *nodeID, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer disk.Close()

	server, err := worker.Build(worker.Options{
		NodeID: *nodeID,
		Config: cfg,
		Log:    log_service.Tee(console, disk),
	})
	if err != nil {
		log.Fatalf("Failed to build worker: %v", err)
	}
	if err := server.Run(); err != nil {
		log.Fatalf("Worker failed: %v", err)
	}
}

func runQC(args []string) {
	fs := flag.NewFlagSet("qc", flag.ExitOnError)
	var (
		configPath = fs.String("config", "./sandsampler.yaml", "Config file")
		addr       = fs.String("worker", "", "Worker address (runs a local worker if empty)")
		engineName = fs.String("engine", "seqtk", "Computation engine to load")
		command    = fs.String("cmd", "fqchk", "Engine command and flags, space separated")
		predicate  = fs.String("predicate", "fastq", "Record boundary predicate")
		maxSamples = fs.Int("max-samples", controller.DefaultMaxSamples, "Windows to request per file")
		debug      = fs.Bool("debug", false, "Ask the worker to log every request")
	)
	fs.Parse(args)

	if fs.NArg() == 0 {
		log.Fatal("qc needs at least one file or s3:// uri")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	ls := zaplog.NewZapLogService(os.Stderr, "controller-"+uuid.NewString()[:8], cfg.Log.Level, cfg.Log.Format)
	defer ls.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var b *bridge.Bridge
	if *addr == "" {
		local, stop, err := worker.Local(ctx, cfg, ls)
		if err != nil {
			log.Fatalf("Failed to start local worker: %v", err)
		}
		defer stop()
		b = local
	} else {
		remote, err := worker.Remote(ctx, *addr, ls)
		if err != nil {
			log.Fatalf("Failed to connect to worker: %v", err)
		}
		defer remote.Stop()
		b = remote
	}

	if err := b.Init(ctx, communication.InitConfig{Engine: *engineName, Debug: *debug}); err != nil {
		log.Fatalf("Init failed: %v", err)
	}

	c := controller.New(b, ls)
	reports, err := c.QC(ctx, fileRefs(fs.Args()), controller.Options{
		Command:    strings.Fields(*command),
		Predicate:  *predicate,
		MaxSamples: *maxSamples,
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(reports); encErr != nil {
		log.Printf("Failed to write report: %v", encErr)
	}
	if err != nil {
		log.Fatalf("QC failed: %v", err)
	}
}

func fileRefs(args []string) []communication.FileRef {
	refs := make([]communication.FileRef, 0, len(args))
	for _, a := range args {
		name := a[strings.LastIndex(a, "/")+1:]
		if strings.Contains(a, "://") {
			refs = append(refs, communication.FileRef{Name: name, URI: a})
			continue
		}
		refs = append(refs, communication.FileRef{Name: name, Path: a})
	}
	return refs
}
