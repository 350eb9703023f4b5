package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockripper/internal/adapter/httpapi"
	"stockripper/internal/adapter/peer"
	"stockripper/internal/adapter/provider"
	"stockripper/internal/domain"
	"stockripper/internal/infra/config"
	"stockripper/internal/infra/logger"
	"stockripper/internal/infra/tracer"
	"stockripper/internal/usecase"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "config.yaml", "path to configuration file")
		role       = flag.String("role", "", "agent role: market-analyst, planner, or mailer (defaults to agent.name)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *role == "" {
		*role = cfg.Agent.Name
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
	}()

	pool, err := provider.NewPool(cfg.Providers, cfg.Timeouts, log)
	if err != nil {
		return err
	}
	defer pool.CloseAll()

	log.Info("connecting tool providers", "count", len(cfg.Providers))
	pool.ConnectAll(ctx)

	peers := peer.New(cfg.Peers, cfg.Agent.URL, cfg.Timeouts.PeerCall, log)
	proc := usecase.NewProcessor(pool, peers, log)

	skillRoutes, capabilities, err := wireRole(*role, cfg, proc)
	if err != nil {
		return err
	}

	card := buildCard(cfg, capabilities, skillRoutes, proc)
	srv := httpapi.New(card, proc, pool, cfg.RateLimit, cfg.Agent.Addr, skillRoutes, log)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	log.Info("agent started", "role", *role, "addr", cfg.Agent.Addr, "url", cfg.Agent.URL)

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Warn("http server shutdown", "error", err)
	}
	pool.CloseAll()
	return nil
}

// wireRole registers the role's skill handlers and returns its extra task
// routes and advertised capabilities.
func wireRole(role string, cfg *config.Config, proc *usecase.Processor) (map[string]string, map[string]bool, error) {
	switch role {
	case "market-analyst":
		prov := primaryProvider(cfg, "alpaca")
		analyze := usecase.NewMarketAnalysisHandler(prov)
		proc.Register(usecase.SkillAnalyzeStock, analyze)
		proc.RegisterDefault(analyze)
		return map[string]string{
				"/analyze": usecase.SkillAnalyzeStock,
			}, map[string]bool{
				"market_analysis":       true,
				"stock_research":        true,
				"google_a2a_compatible": true,
			}, nil

	case "planner":
		prov := primaryProvider(cfg, "alpaca")
		plan := usecase.NewTradePlanHandler("market-analyst", prov)
		proc.Register(usecase.SkillCreateTradePlan, plan)
		proc.Register(usecase.SkillExecuteTrade, usecase.NewExecuteTradeHandler(prov))
		proc.RegisterDefault(plan)
		return map[string]string{
				"/plan":    usecase.SkillCreateTradePlan,
				"/execute": usecase.SkillExecuteTrade,
			}, map[string]bool{
				"trade_planning":        true,
				"order_execution":       true,
				"google_a2a_compatible": true,
			}, nil

	case "mailer":
		prov := primaryProvider(cfg, "gmail")
		notify := usecase.NewTradeNotificationHandler(prov, cfg.Agent.DefaultRecipient)
		proc.Register(usecase.SkillTradeNotification, notify)
		proc.RegisterDefault(notify)
		return map[string]string{
				"/trade-notification": usecase.SkillTradeNotification,
			}, map[string]bool{
				"email_notifications":   true,
				"google_a2a_compatible": true,
			}, nil

	default:
		return nil, nil, fmt.Errorf("unknown role %q (want market-analyst, planner, or mailer)", role)
	}
}

// primaryProvider picks the preferred provider when configured, otherwise the
// first configured provider so a differently-named deployment still works.
func primaryProvider(cfg *config.Config, preferred string) string {
	for _, p := range cfg.Providers {
		if p.Name == preferred {
			return preferred
		}
	}
	if len(cfg.Providers) > 0 {
		return cfg.Providers[0].Name
	}
	return preferred
}

func buildCard(cfg *config.Config, capabilities map[string]bool, skillRoutes map[string]string, proc *usecase.Processor) domain.AgentCard {
	endpoints := map[string]string{
		"discovery":  cfg.Agent.URL + "/.well-known/agent.json",
		"health":     cfg.Agent.URL + "/health",
		"mcp_status": cfg.Agent.URL + "/mcp-status",
		"tasks":      cfg.Agent.URL + "/tasks",
	}
	for route, skill := range skillRoutes {
		endpoints[skill] = cfg.Agent.URL + route
	}

	var skills []domain.AgentSkill
	for _, name := range proc.Skills() {
		skills = append(skills, domain.AgentSkill{Name: name})
	}

	return domain.AgentCard{
		Name:         cfg.Agent.Name,
		Description:  cfg.Agent.Description,
		Version:      cfg.Agent.Version,
		URL:          cfg.Agent.URL,
		Capabilities: capabilities,
		Endpoints:    endpoints,
		Skills:       skills,
	}
}
