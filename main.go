package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vocalis/pkg/api"
	"vocalis/pkg/channels"
	_ "vocalis/pkg/channels/autoload" // register channel factories
	"vocalis/pkg/config"
	"vocalis/pkg/gateway"
	"vocalis/pkg/handler"
	"vocalis/pkg/llm"
	_ "vocalis/pkg/llm/autoload" // register LLM providers
	"vocalis/pkg/mcp"
	"vocalis/pkg/monitor"
)

func main() {
	// --- 0. Configuration ---
	cfg, sysCfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	monitor.SetupSlog(sysCfg.LogLevel)

	// --- 1. Model client ---
	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		log.Fatalf("❌ Failed to init LLM client: %v", err)
	}

	// --- 2. MCP tool discovery ---
	registry := mcp.NewRegistry()
	servers, err := mcp.NewServerManagerFromConfig(cfg.MCPServers)
	if err != nil {
		log.Fatalf("❌ Failed to parse MCP server config: %v", err)
	}
	if cfg.Agent.UseMCP {
		discoverCtx, cancel := context.WithTimeout(context.Background(), time.Duration(sysCfg.MCPCallTimeoutMs)*time.Millisecond)
		servers.DiscoverTools(discoverCtx, registry)
		cancel()
	}

	// --- 3. Gateway with channels and the conversation handler ---
	gw, err := gateway.NewBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(monitor.NewCLIMonitor()).
		WithChannel(channels.BuildFromConfig(cfg.Channels, sysCfg)...).
		WithHandler(func(responder api.MessageResponder) api.MessageHandler {
			return handler.NewMessageHandler(client, responder, cfg, sysCfg, registry, servers)
		}).
		Build()
	if err != nil {
		log.Fatalf("❌ Failed to build gateway: %v", err)
	}

	// --- 4. Config watcher: re-discover MCP tools on config change ---
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go func() {
		for range config.WatchConfig(watchCtx, "config.json", "system.json") {
			newCfg, _, err := config.Load()
			if err != nil {
				continue
			}
			newServers, err := mcp.NewServerManagerFromConfig(newCfg.MCPServers)
			if err != nil {
				continue
			}
			if newCfg.Agent.UseMCP && !registry.Disabled() {
				discoverCtx, cancel := context.WithTimeout(watchCtx, time.Duration(sysCfg.MCPCallTimeoutMs)*time.Millisecond)
				newServers.DiscoverTools(discoverCtx, registry)
				cancel()
			}
		}
	}()

	// --- 5. Wait for shutdown signal ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Received shutdown signal. Stopping services...")
	gw.StopAll()
	log.Println("Bye!")
}
