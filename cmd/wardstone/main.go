package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wardstone/wardstone/pkg/config"
	"github.com/wardstone/wardstone/pkg/engine"
	"github.com/wardstone/wardstone/pkg/ledger"
	"github.com/wardstone/wardstone/pkg/patterns"
	"github.com/wardstone/wardstone/pkg/store"
	"github.com/wardstone/wardstone/pkg/threat"
)

const Version = "0.1.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		port := config.GetEnv("WARDSTONE_PORT", "3000")
		if len(os.Args) > 2 {
			port = os.Args[2]
		}
		runHTTPServer(port)
	case "scan":
		if len(os.Args) < 3 {
			fmt.Println("Usage: wardstone scan <text>")
			os.Exit(1)
		}
		runCLIScan(strings.Join(os.Args[2:], " "))
	case "report":
		days := 7
		if len(os.Args) > 2 {
			if d, err := strconv.Atoi(os.Args[2]); err == nil {
				days = d
			}
		}
		runCLIReport(days)
	case "version":
		fmt.Printf("Wardstone v%s\n", Version)
		fmt.Println("Threat Detection Engine")
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Wardstone v%s - Threat Detection Engine\n\n", Version)
	fmt.Println("Usage:")
	fmt.Println("  wardstone serve [port]   Start HTTP server (default: 3000)")
	fmt.Println("  wardstone scan <text>    Classify a block of text")
	fmt.Println("  wardstone report [days]  Print a security report (default: 7 days)")
	fmt.Println("  wardstone version        Show version")
	fmt.Println("")
	fmt.Println("Environment Variables:")
	fmt.Println("  WARDSTONE_PORT           HTTP port (default: 3000)")
	fmt.Println("  WARDSTONE_REDIS_ADDR     Redis address for the threat store")
	fmt.Println("  WARDSTONE_DATABASE_URL   Postgres DSN for the threat store")
	fmt.Println("  WARDSTONE_CONFIG         Path to a YAML config file")
	fmt.Println("  WARDSTONE_THREAT_THRESHOLD  Minimum confidence to record (default: 50)")
}

// openStore picks the store backend from the environment. Redis wins over
// Postgres when both are set; with neither, state lives in process memory.
func openStore(ctx context.Context) (store.KV, func()) {
	if addr := os.Getenv("WARDSTONE_REDIS_ADDR"); addr != "" {
		kv, err := store.DialRedis(ctx, addr)
		if err != nil {
			log.Fatalf("[STARTUP] redis %s: %v", addr, err)
		}
		log.Printf("[STARTUP] store: redis (%s)", addr)
		return kv, func() { kv.Close() }
	}
	if dsn := os.Getenv("WARDSTONE_DATABASE_URL"); dsn != "" {
		kv, err := store.DialPostgres(ctx, dsn)
		if err != nil {
			log.Fatalf("[STARTUP] postgres: %v", err)
		}
		log.Printf("[STARTUP] store: postgres")
		return kv, func() { kv.Close() }
	}
	log.Println("[WARN] no store configured, state will not survive restarts")
	return store.NewMemory(), func() {}
}

func loadConfig() config.Config {
	cfg := config.NewDefault()
	if path := os.Getenv("WARDSTONE_CONFIG"); path != "" {
		loaded, err := cfg.LoadFile(path)
		if err != nil {
			log.Fatalf("[STARTUP] %v", err)
		}
		cfg = loaded
		log.Printf("[STARTUP] config loaded from %s", path)
	}
	return cfg
}

func newEngine(ctx context.Context) (*engine.Engine, func()) {
	kv, closeStore := openStore(ctx)
	eng, err := engine.New(ctx, engine.Options{Store: kv, Config: loadConfig()})
	if err != nil {
		closeStore()
		log.Fatalf("[STARTUP] %v", err)
	}
	return eng, closeStore
}

// ============================================================================
// HTTP Server Mode
// ============================================================================

func runHTTPServer(port string) {
	ctx := context.Background()
	eng, closeStore := newEngine(ctx)
	defer closeStore()

	app := fiber.New(fiber.Config{
		AppName: "Wardstone",
	})

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": Version})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/v1/analyze/content", func(c fiber.Ctx) error {
		var req struct {
			Text   string `json:"text"`
			Source string `json:"source"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Source == "" {
			req.Source = "api"
		}
		threats := eng.AnalyzeContent(c.Context(), req.Text, req.Source)
		return c.JSON(fiber.Map{"threats": emptyIfNil(threats)})
	})

	app.Post("/v1/analyze/request", func(c fiber.Ctx) error {
		var req struct {
			URL     string            `json:"url"`
			Method  string            `json:"method"`
			Headers map[string]string `json:"headers"`
			Body    string            `json:"body"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.URL == "" {
			return c.Status(400).JSON(fiber.Map{"error": "url field is required"})
		}
		if req.Method == "" {
			req.Method = "GET"
		}
		threats := eng.AnalyzeNetworkRequest(c.Context(), req.URL, req.Method, req.Headers, req.Body)
		return c.JSON(fiber.Map{"threats": emptyIfNil(threats)})
	})

	app.Post("/v1/analyze/behavior", func(c fiber.Ctx) error {
		var req struct {
			Action    string            `json:"action"`
			Details   map[string]string `json:"details"`
			UserID    string            `json:"userId"`
			SessionID string            `json:"sessionId"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Action == "" {
			return c.Status(400).JSON(fiber.Map{"error": "action field is required"})
		}
		threats := eng.AnalyzeBehavior(c.Context(), req.Action, req.Details, req.UserID, req.SessionID)
		return c.JSON(fiber.Map{"threats": emptyIfNil(threats)})
	})

	app.Post("/v1/behavior/:session/promote", func(c fiber.Ctx) error {
		if err := eng.PromoteBaseline(c.Context(), c.Params("session")); err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/v1/threats", func(c fiber.Ctx) error {
		f, limit, err := filterFromQuery(c)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		threats, err := eng.GetThreats(c.Context(), f, limit)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"threats": emptyIfNil(threats), "count": len(threats)})
	})

	app.Post("/v1/threats/:id/resolve", func(c fiber.Ctx) error {
		var req struct {
			ResolvedBy    string `json:"resolvedBy"`
			FalsePositive bool   `json:"falsePositive"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		err := eng.ResolveThreat(c.Context(), c.Params("id"), req.ResolvedBy, req.FalsePositive)
		if errors.Is(err, ledger.ErrNotFound) {
			return c.Status(404).JSON(fiber.Map{"error": "threat not found"})
		}
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "resolved"})
	})

	app.Get("/v1/patterns", func(c fiber.Ctx) error {
		pats, err := eng.GetPatterns(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"patterns": pats})
	})

	app.Post("/v1/patterns", func(c fiber.Ctx) error {
		var p patterns.Pattern
		if err := c.Bind().Body(&p); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		stored, err := eng.AddPattern(c.Context(), p)
		if err != nil {
			return c.Status(400).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(201).JSON(stored)
	})

	app.Get("/v1/report", func(c fiber.Ctx) error {
		days := 0
		if raw := c.Query("days"); raw != "" {
			d, err := strconv.Atoi(raw)
			if err != nil {
				return c.Status(400).JSON(fiber.Map{"error": "invalid days"})
			}
			days = d
		}
		rep, err := eng.GenerateReport(c.Context(), days)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(rep)
	})

	app.Get("/v1/stats", func(c fiber.Ctx) error {
		stats, err := eng.GetStats(c.Context())
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(stats)
	})

	app.Get("/v1/config", func(c fiber.Ctx) error {
		return c.JSON(eng.Config())
	})

	app.Patch("/v1/config", func(c fiber.Ctx) error {
		var p config.Partial
		if err := c.Bind().Body(&p); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		cfg, err := eng.UpdateConfig(c.Context(), p)
		if err != nil {
			return c.Status(500).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(cfg)
	})

	log.Printf("[STARTUP] Wardstone v%s listening on :%s", Version, port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatal(err)
	}
}

func filterFromQuery(c fiber.Ctx) (ledger.Filter, int, error) {
	var f ledger.Filter
	if v := c.Query("type"); v != "" {
		f.Type = threat.Type(v)
		if !f.Type.Valid() {
			return f, 0, fmt.Errorf("unknown type %q", v)
		}
	}
	if v := c.Query("severity"); v != "" {
		f.Severity = threat.Severity(v)
		if !f.Severity.Valid() {
			return f, 0, fmt.Errorf("unknown severity %q", v)
		}
	}
	if v := c.Query("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, 0, fmt.Errorf("invalid resolved %q", v)
		}
		f.Resolved = &b
	}
	var err error
	if f.StartDate, err = queryInt64(c, "startDate"); err != nil {
		return f, 0, err
	}
	if f.EndDate, err = queryInt64(c, "endDate"); err != nil {
		return f, 0, err
	}
	if v := c.Query("minConfidence"); v != "" {
		if f.MinConfidence, err = strconv.Atoi(v); err != nil {
			return f, 0, fmt.Errorf("invalid minConfidence %q", v)
		}
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return f, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	return f, limit, nil
}

func queryInt64(c fiber.Ctx, name string) (int64, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", name, v)
	}
	return n, nil
}

func emptyIfNil(threats []threat.Threat) []threat.Threat {
	if threats == nil {
		return []threat.Threat{}
	}
	return threats
}

// ============================================================================
// CLI Mode
// ============================================================================

func runCLIScan(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng, closeStore := newEngine(ctx)
	defer closeStore()

	threats := eng.AnalyzeContent(ctx, text, "cli")
	out, _ := json.MarshalIndent(emptyIfNil(threats), "", "  ")
	fmt.Println(string(out))
}

func runCLIReport(days int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eng, closeStore := newEngine(ctx)
	defer closeStore()

	rep, err := eng.GenerateReport(ctx, days)
	if err != nil {
		log.Fatalf("report: %v", err)
	}

	fmt.Printf("Security Report (%d days)\n\n", rep.PeriodDays)
	fmt.Printf("  Total threats:      %d\n", rep.Summary.TotalThreats)
	fmt.Printf("  Unresolved:         %d\n", rep.Summary.Unresolved)
	fmt.Printf("  False positives:    %d\n", rep.Summary.FalsePositives)
	fmt.Printf("  Average confidence: %.1f\n", rep.Summary.AverageConfidence)
	if len(rep.Summary.ByType) > 0 {
		fmt.Println("\n  By type:")
		for _, typ := range threat.Types {
			if n := rep.Summary.ByType[typ]; n > 0 {
				fmt.Printf("    %-22s %d\n", typ, n)
			}
		}
	}
	if len(rep.Recommendations) > 0 {
		fmt.Println("\n  Recommendations:")
		for _, r := range rep.Recommendations {
			fmt.Printf("    - %s\n", r)
		}
	}
}
