package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/hanpama/graphexec/internal/eventbus"
	"github.com/hanpama/graphexec/internal/executor"
	"github.com/hanpama/graphexec/internal/introspection"
	"github.com/hanpama/graphexec/internal/otel"
	"github.com/hanpama/graphexec/internal/schema"
	"github.com/hanpama/graphexec/internal/server"
	"go.uber.org/zap"
)

const rootUsage = `graphexec — GraphQL execution engine & tools

USAGE:
  graphexec <command> [flags]

COMMANDS:
  serve            Run an HTTP GraphQL endpoint over an SDL schema and JSON data
  print-sdl        Parse, validate, and print a normalized GraphQL schema
  help             Show help for any command
`

const serveUsage = `serve FLAGS:
  -schema <file>               GraphQL SDL schema file (required)
  -data <file>                 JSON file with root field values (optional)
  -graphql.introspection       Enable GraphQL introspection (default: true)
  -server.addr <addr>          HTTP listen address (default: :8080)
  -server.pretty               Pretty-print JSON responses
  -server.timeout <duration>   Per-request timeout, e.g. 10s (default: 10s)
  -batch.size <n>              Bundle up to n consecutive stream patches per part
  -batch.interval <duration>   Max wait before flushing a partial bundle (default: 25ms)
  -otel.endpoint <addr>        OTLP collector endpoint
  -otel.service <name>         OpenTelemetry service name (default: graphexec)
  -log.dev                     Human-readable development logging
`

const printSDLUsage = `print-sdl FLAGS:
  -schema <file>  GraphQL SDL schema file (required)
  -out <file>     Write normalized SDL to file (default: stdout)
  (Validation always runs; exits non-zero on errors)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("graphexec", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "print-sdl":
		return cmdPrintSDL(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "print-sdl":
		fmt.Print(printSDLUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

func cmdServe(args []string) error {
	schemaFile := ""
	dataFile := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	enableIntrospection := true
	batchSize := 0
	batchInterval := 25 * time.Millisecond
	otelEndpoint := ""
	otelService := "graphexec"
	devLog := false

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL schema file")
	fs.StringVar(&dataFile, "data", dataFile, "JSON file with root field values")
	fs.BoolVar(&enableIntrospection, "graphql.introspection", enableIntrospection, "Enable GraphQL introspection")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.IntVar(&batchSize, "batch.size", batchSize, "Bundle up to n consecutive stream patches per part")
	fs.DurationVar(&batchInterval, "batch.interval", batchInterval, "Max wait before flushing a partial bundle")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	fs.BoolVar(&devLog, "log.dev", devLog, "Human-readable development logging")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-schema is required")
	}

	sch, err := loadSchema(schemaFile)
	if err != nil {
		return err
	}
	runtime, err := loadRuntime(sch, dataFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(devLog)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	var rt executor.Runtime = runtime
	if enableIntrospection {
		wrapper := introspection.Wrap(sch, rt)
		rt = wrapper.Runtime
		sch = wrapper.Schema
	}

	sopts := []server.Option{server.WithLogger(logger)}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if batchSize > 0 {
		sopts = append(sopts, server.WithExecutorOptions(executor.WithBatching(batchSize, batchInterval)))
	}
	h, err := server.New(sch, rt, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)

	logger.Info("GraphQL server listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

func cmdPrintSDL(args []string) error {
	schemaFile := ""
	outFile := ""
	fs := flag.NewFlagSet("print-sdl", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema", schemaFile, "GraphQL SDL schema file")
	fs.StringVar(&outFile, "out", outFile, "Write normalized SDL to file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, printSDLUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, printSDLUsage)
		return fmt.Errorf("-schema is required")
	}

	sch, err := loadSchema(schemaFile)
	if err != nil {
		return err
	}
	sdl := schema.Render(sch)
	if outFile == "" {
		fmt.Print(sdl)
		return nil
	}
	return os.WriteFile(outFile, []byte(sdl), 0644)
}

func loadSchema(path string) (*schema.Schema, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	sch, err := schema.BuildSDL(path, string(src))
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	return sch, nil
}

// loadRuntime builds a map-backed runtime serving the root fields from a JSON
// document keyed by field name. Nested objects resolve through the default
// field lookup. Without a data file every root field resolves to null.
func loadRuntime(sch *schema.Schema, dataFile string) (*executor.Resolvers, error) {
	data := map[string]any{}
	if dataFile != "" {
		raw, err := os.ReadFile(dataFile)
		if err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("parse data: %w", err)
		}
	}

	rt := executor.NewResolvers()
	for _, rootName := range []string{sch.QueryType, sch.MutationType} {
		root := sch.GetType(rootName)
		if root == nil {
			continue
		}
		for _, f := range root.Fields {
			value := data[f.Name]
			rt.Field(rootName, f.Name, func(ctx context.Context, source any, args map[string]any) (any, error) {
				return value, nil
			})
		}
	}
	return rt, nil
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
