package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/AnishMulay/sandsampler/internal/bridge"
	"github.com/AnishMulay/sandsampler/internal/communication"
	"github.com/AnishMulay/sandsampler/internal/config"
	"github.com/AnishMulay/sandsampler/internal/controller"
	"github.com/AnishMulay/sandsampler/internal/log_service"
	"github.com/AnishMulay/sandsampler/internal/log_service/localdisc"
	"github.com/AnishMulay/sandsampler/servers/worker"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type toolContext struct {
	b  *bridge.Bridge
	c  *controller.Controller
	ls log_service.LogService
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func addTools(s *server.MCPServer, tc *toolContext) {
	mountTool := mcp.NewTool("mount",
		mcp.WithDescription("Mount a local file or s3:// object into the worker"),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Host path or s3://bucket/key"),
		),
		mcp.WithString("name",
			mcp.Description("Name to mount under (defaults to the base name)"),
		),
	)
	s.AddTool(mountTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleMount(ctx, request, tc)
	})

	sampleTool := mcp.NewTool("sample",
		mcp.WithDescription("Draw the next window of a mounted file"),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Mounted file name"),
		),
		mcp.WithString("predicate",
			mcp.Description("Record boundary predicate: fastq, fasta or any"),
		),
	)
	s.AddTool(sampleTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleSample(ctx, request, tc)
	})

	execTool := mcp.NewTool("exec",
		mcp.WithDescription("Run the engine, optionally on a byte range of a mounted file"),
		mcp.WithString("command",
			mcp.Required(),
			mcp.Description("Engine command and flags, space separated"),
		),
		mcp.WithString("name",
			mcp.Description("Mounted file passed as the last argument"),
		),
		mcp.WithNumber("start",
			mcp.Description("Chunk start offset"),
		),
		mcp.WithNumber("end",
			mcp.Description("Chunk end offset (exclusive)"),
		),
	)
	s.AddTool(execTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleExec(ctx, request, tc)
	})

	qcTool := mcp.NewTool("qc",
		mcp.WithDescription("Mount files, sample them and run the engine on every window"),
		mcp.WithString("files",
			mcp.Required(),
			mcp.Description("Comma separated host paths or s3:// uris"),
		),
		mcp.WithString("command",
			mcp.Description("Engine command and flags (default fqchk)"),
		),
	)
	s.AddTool(qcTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleQC(ctx, request, tc)
	})
}

func fileRef(path, name string) communication.FileRef {
	if name == "" {
		name = filepath.Base(path)
	}
	if strings.Contains(path, "://") {
		return communication.FileRef{Name: name, URI: path}
	}
	return communication.FileRef{Name: name, Path: path}
}

func handleMount(ctx context.Context, request mcp.CallToolRequest, tc *toolContext) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, _ := request.RequireString("name")

	res, err := tc.b.Mount(ctx, communication.MountConfig{Files: []communication.FileRef{fileRef(path, name)}})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to mount: %v", err)), nil
	}
	return jsonResult(res)
}

func handleSample(ctx context.Context, request mcp.CallToolRequest, tc *toolContext) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	predicate, _ := request.RequireString("predicate")

	win, err := tc.b.Sample(ctx, name, predicate)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to sample: %v", err)), nil
	}
	return jsonResult(win)
}

func handleExec(ctx context.Context, request mcp.CallToolRequest, tc *toolContext) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return mcp.NewToolResultError("command is empty"), nil
	}

	args := make([]communication.ExecArg, 0, len(fields)+1)
	for _, f := range fields {
		args = append(args, communication.Literal(f))
	}

	if name, _ := request.RequireString("name"); name != "" {
		start, startErr := request.RequireFloat("start")
		end, endErr := request.RequireFloat("end")
		if startErr == nil && endErr == nil {
			args = append(args, communication.FileChunk(name, int64(start), int64(end)))
		} else {
			args = append(args, communication.FileByName(name))
		}
	}

	rows, err := tc.b.Exec(ctx, args...)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to exec: %v", err)), nil
	}
	return jsonResult(rows)
}

func handleQC(ctx context.Context, request mcp.CallToolRequest, tc *toolContext) (*mcp.CallToolResult, error) {
	files, err := request.RequireString("files")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	command, _ := request.RequireString("command")
	if command == "" {
		command = "fqchk"
	}

	var refs []communication.FileRef
	for _, f := range strings.Split(files, ",") {
		if f = strings.TrimSpace(f); f != "" {
			refs = append(refs, fileRef(f, ""))
		}
	}

	reports, err := tc.c.QC(ctx, refs, controller.Options{Command: strings.Fields(command)})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("QC failed: %v", err)), nil
	}
	return jsonResult(reports)
}

func main() {
	var (
		configPath = flag.String("config", "./sandsampler.yaml", "Config file")
		addr       = flag.String("worker", "", "Worker address (runs a local worker if empty)")
		engineName = flag.String("engine", "seqtk", "Computation engine to load")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// stdout carries the MCP protocol, so logs only go to disk.
	ls, err := localdisc.NewLocalDiscLogService(cfg.Log.Dir, "mcp-"+uuid.NewString()[:8], cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer ls.Close()

	ctx := context.Background()
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

	if err := b.Init(ctx, communication.InitConfig{Engine: *engineName}); err != nil {
		log.Fatalf("Init failed: %v", err)
	}

	s := server.NewMCPServer(
		"sandsampler",
		"1.0.0",
		server.WithToolCapabilities(false),
	)
	addTools(s, &toolContext{b: b, c: controller.New(b, ls), ls: ls})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
	}
}
