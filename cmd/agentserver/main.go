// Command agentserver is the composition root: it wires a Dispatcher to
// the newline-delimited and gRPC-JSON transports and serves both until
// interrupted. Grounded on `example/cmd/assistant/main.go`'s overall shape
// (flag parsing, clue log context, an error channel fed by both the signal
// handler and each transport's goroutine, a sync.WaitGroup joined before
// exit), generalized from that file's fixed HTTP+gRPC service pair to this
// server's lines+gRPC transport pair over one shared Dispatcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"goa.design/clue/log"

	"github.com/agentorch/agentserver/dispatcher"
	"github.com/agentorch/agentserver/event"
	"github.com/agentorch/agentserver/modelclient"
	"github.com/agentorch/agentserver/proxy"
	"github.com/agentorch/agentserver/session"
	"github.com/agentorch/agentserver/sessionregistry"
	"github.com/agentorch/agentserver/telemetry"
	"github.com/agentorch/agentserver/terminalbackend"
	"github.com/agentorch/agentserver/transport/grpcjson"
	"github.com/agentorch/agentserver/transport/lines"
	"github.com/agentorch/agentserver/workflow"
)

func main() {
	var (
		configF = flag.String("config", "", "path to agentserver.yaml (optional)")
		dbgF    = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
	}

	cfg, err := loadConfig(*configF)
	if err != nil {
		log.Fatal(ctx, err)
	}

	logger := telemetry.NewClueLogger()
	sink := event.NewInProcSink()

	registry := sessionregistry.New()
	defaultSess := session.New("default", cfg.Server.Name, cfg.History.toSession(), workflow.NewRuntime(sink), logger)
	if err := registry.AddSession(defaultSess); err != nil {
		log.Fatal(ctx, err)
	}

	clients := buildModelClients(ctx, cfg.Models, logger)

	d := dispatcher.New(dispatcher.Config{
		ServerName:     cfg.Server.Name,
		Registry:       registry,
		Proxies:        proxy.NewManager(cfg.Server.ProxyBasePort, logger),
		Multiplexer:    terminalbackend.NewTmuxMultiplexer(),
		ModelClients:   modelclient.NewRegistry(clients),
		Sink:           sink,
		Logger:         logger,
		DefaultHistory: cfg.History.toSession(),
	})

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	handleLinesServer(ctx, cfg.Server.LinesAddr, d, sink, logger, &wg, errc)
	handleGRPCServer(ctx, cfg.Server.GRPCAddr, d, &wg, errc)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}

func handleLinesServer(ctx context.Context, addr string, d *dispatcher.Dispatcher, sink *event.InProcSink, logger telemetry.Logger, wg *sync.WaitGroup, errc chan error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		errc <- fmt.Errorf("lines transport listen %q: %w", addr, err)
		return
	}
	srv := lines.NewServer(d, sink, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "lines transport listening on %q", addr)
		errc <- srv.Serve(ctx, ln)
	}()
}

func handleGRPCServer(ctx context.Context, addr string, d *dispatcher.Dispatcher, wg *sync.WaitGroup, errc chan error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		errc <- fmt.Errorf("grpc transport listen %q: %w", addr, err)
		return
	}
	srv := grpcjson.NewGRPCServer(d)
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "grpc-json transport listening on %q", addr)
		errc <- srv.Serve(ln)
	}()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
}

// buildModelClients wires Anthropic and OpenAI when their API key variables
// are set in the environment, and Bedrock when a Bedrock model is configured
// (its credentials come from the default AWS configuration chain); an
// unconfigured provider is simply absent from the
// registry rather than an error, since spec.md's proxy transform only
// needs whichever providers the deployment actually uses.
func buildModelClients(ctx context.Context, cfg modelsConfig, logger telemetry.Logger) map[modelclient.Provider]modelclient.Client {
	clients := make(map[modelclient.Provider]modelclient.Client)

	if key := os.Getenv(cfg.AnthropicAPIKeyEnv); key != "" {
		c, err := modelclient.NewAnthropicFromAPIKey(key, cfg.AnthropicModel)
		if err != nil {
			logger.Warn(ctx, "anthropic client not wired", "error", err)
		} else {
			clients[modelclient.ProviderAnthropic] = c
		}
	}

	if key := os.Getenv(cfg.OpenAIAPIKeyEnv); key != "" {
		c, err := modelclient.NewOpenAIFromAPIKey(key, cfg.OpenAIModel)
		if err != nil {
			logger.Warn(ctx, "openai client not wired", "error", err)
		} else {
			clients[modelclient.ProviderOpenAI] = c
		}
	}

	if cfg.BedrockModel != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
		if err != nil {
			logger.Warn(ctx, "bedrock client not wired", "error", err)
		} else {
			rt := bedrockruntime.NewFromConfig(awsCfg)
			c, err := modelclient.NewBedrock(rt, cfg.BedrockModel)
			if err != nil {
				logger.Warn(ctx, "bedrock client not wired", "error", err)
			} else {
				clients[modelclient.ProviderBedrock] = c
			}
		}
	}

	return clients
}
