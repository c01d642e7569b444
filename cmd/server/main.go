package main

import (
    "context"
    "flag"
    "fmt"
    "log"
    "net"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "google.golang.org/grpc"
    grpchealth "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"

    "yuzu/voicebridge/internal/api"
    "yuzu/voicebridge/internal/auth"
    "yuzu/voicebridge/internal/bridge"
    "yuzu/voicebridge/internal/config"
    "yuzu/voicebridge/internal/health"
    "yuzu/voicebridge/internal/menu"
    "yuzu/voicebridge/internal/provider"
    "yuzu/voicebridge/internal/store"
    "yuzu/voicebridge/internal/tools"
)

var (
    checkOnly = flag.Bool("check", false, "check provider credentials and exit")
    mintToken = flag.String("mint-observer-token", "", "print an observer token for this subject and exit")
    tokenTTL  = flag.Duration("token-ttl", time.Hour, "lifetime of a minted observer token")
)

func main() {
	flag.Parse()
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	if *checkOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		st := health.CheckAll(ctx, cfg)
		cancel()
		fmt.Print(st.String())
		if !st.OK {
			os.Exit(1)
		}
		return
	}
	if *mintToken != "" {
		if cfg.Observer.TokenSecret == "" {
			log.Fatal("OBSERVER_TOKEN_SECRET not set")
		}
		tok, err := auth.GenerateObserverToken(cfg.Observer.TokenSecret, *mintToken, time.Now().Add(*tokenTTL).Unix())
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	catalog, err := menu.LoadCatalog(cfg.Menu.File)
	if err != nil {
		log.Fatalf("menu: %v", err)
	}
	shop := menu.NewService(catalog)
	reg := tools.NewRegistry()
	if err := shop.Register(reg); err != nil {
		log.Fatalf("tools: %v", err)
	}
	log.Printf("[menu] %s loaded with %d items, %d tools", catalog.Restaurant, len(catalog.Items), len(reg.Definitions()))

	// Credentials are re-read from cfg on every attempt; a missing key fails
	// the attempt, not startup.
	factory := func() (provider.Provider, error) {
		pc := provider.Config{Name: cfg.Provider.Name, Tools: reg.Definitions()}
		switch cfg.Provider.Name {
		case "elevenlabs":
			pc.APIKey = cfg.Eleven.APIKey
			pc.AgentID = cfg.Eleven.AgentID
			pc.Voice = cfg.Eleven.VoiceID
			pc.URL = cfg.Eleven.URL
		default:
			pc.APIKey = cfg.OpenAI.APIKey
			pc.Model = cfg.OpenAI.Model
			pc.Voice = cfg.OpenAI.Voice
			pc.URL = cfg.OpenAI.URL
			pc.Instructions = cfg.OpenAI.Instructions
		}
		return provider.New(pc)
	}

	calls := store.New()
	mgr := bridge.New(bridge.Options{
		Factory:        factory,
		Tools:          tools.NewDispatcher(reg, time.Duration(cfg.Tools.TimeoutSec)*time.Second),
		Scope:          shop,
		Calls:          calls,
		ConnectTimeout: time.Duration(cfg.Provider.ConnectTimeoutSec) * time.Second,
	})
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() {
		if err := mgr.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("[bridge] manager stopped: %v", err)
		}
	}()

	bh := bridge.NewHandler(mgr, cfg.Observer.TokenSecret, cfg.Observer.TokenSkewSecs)
	if cfg.Observer.TokenSecret == "" {
		log.Printf("[bridge] OBSERVER_TOKEN_SECRET not set; /logs accepts any client")
	}

	h := api.NewHandlers(cfg, calls, mgr, health.CheckAll)
	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.HandleFunc("/call", bh.HandleCall)
	mux.HandleFunc("/logs", bh.HandleObserver)
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	gs, hs := startGRPCHealth(cfg.Server.GRPCAddr)

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
    signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
    go func() {
        <-sigc
        log.Printf("shutdown signal received; stopping server...")
        if hs != nil {
            hs.Shutdown()
        }
        // End the live call before draining HTTP
        stop()
        sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
        defer cancel()
        _ = srv.Shutdown(sctx)
        if gs != nil {
            gs.GracefulStop()
        }
    }()

	log.Printf("server starting on %s provider=%s", addr, cfg.Provider.Name)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("server error:", err)
		os.Exit(1)
	}
}

// startGRPCHealth serves the standard gRPC health service for orchestrators
// that probe over gRPC. An empty addr disables it.
func startGRPCHealth(addr string) (*grpc.Server, *grpchealth.Server) {
    if addr == "" {
        return nil, nil
    }
    l, err := net.Listen("tcp", addr)
    if err != nil {
        log.Printf("grpc health listen %s: %v", addr, err)
        return nil, nil
    }
    kap := keepalive.ServerParameters{
        MaxConnectionIdle:     2 * time.Minute,
        MaxConnectionAge:      15 * time.Minute,
        MaxConnectionAgeGrace: 30 * time.Second,
        Time:                  30 * time.Second,
        Timeout:               10 * time.Second,
    }
    kasp := keepalive.EnforcementPolicy{
        MinTime:             10 * time.Second,
        PermitWithoutStream: true,
    }
    s := grpc.NewServer(grpc.KeepaliveParams(kap), grpc.KeepaliveEnforcementPolicy(kasp))
    hs := grpchealth.NewServer()
    hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
    hs.SetServingStatus("voicebridge", healthpb.HealthCheckResponse_SERVING)
    healthpb.RegisterHealthServer(s, hs)
    go func() {
        log.Printf("grpc health on %s", addr)
        if err := s.Serve(l); err != nil {
            log.Printf("grpc serve: %v", err)
        }
    }()
    return s, hs
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
