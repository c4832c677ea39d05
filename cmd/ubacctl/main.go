package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/date"
	"github.com/oarkflow/squealx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/ubac"
	"github.com/oarkflow/ubac/logger"
	"github.com/oarkflow/ubac/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "check":
		handleCheck(args)
	case "grant":
		handleGrant(args)
	case "revoke":
		handleRevoke(args)
	case "set-attr":
		handleSetAttr(args)
	case "permissions":
		handlePermissions(args)
	case "audit":
		handleAudit(args)
	case "filter":
		handleFilter(args)
	case "apply":
		handleApply(args)
	case "init-config":
		handleInitConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println("ubacctl - Administration tool for the UBAC engine")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ubacctl check [flags] <principal> <resource-type> <resource-name> <action>")
	fmt.Println("  ubacctl grant [flags] <resource-type> <resource-name> <action>")
	fmt.Println("  ubacctl revoke [flags] <resource-type> <resource-name> <action>")
	fmt.Println("  ubacctl set-attr [flags] <principal> <name> <value>")
	fmt.Println("  ubacctl permissions [flags] <principal>")
	fmt.Println("  ubacctl audit [flags]")
	fmt.Println("  ubacctl filter [flags] <principal> <table> <base-query>")
	fmt.Println("  ubacctl apply <file>")
	fmt.Println("  ubacctl init-config [path]")
	fmt.Println()
	fmt.Println("Flags are given before positional arguments. Common flags:")
	fmt.Println("  -output table|csv|json   output format")
	fmt.Println("  -file <path>             write output to a file instead of stdout")
	fmt.Println("  -verbose                 debug logging")
	fmt.Println()
	fmt.Println("Configuration is read from ubac.yaml (see 'ubacctl init-config') and")
	fmt.Println("UBAC_* environment variables (UBAC_DRIVER, UBAC_DSN, UBAC_OUTPUT, ...).")
}

// settings is the CLI configuration resolved from ubac.yaml and UBAC_* env.
type settings struct {
	Driver    string
	DSN       string
	Output    string
	RedisAddr string
	ESURL     string
	Snapshot  string
}

func loadSettings() *settings {
	v := viper.New()
	v.SetConfigName("ubac")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/ubac")
	v.SetEnvPrefix("UBAC")
	v.AutomaticEnv()
	v.SetDefault("driver", "memory")
	v.SetDefault("dsn", "ubac.db")
	v.SetDefault("output", "table")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config: %v\n", err)
			os.Exit(2)
		}
	}
	return &settings{
		Driver:    v.GetString("driver"),
		DSN:       v.GetString("dsn"),
		Output:    v.GetString("output"),
		RedisAddr: v.GetString("redis_addr"),
		ESURL:     v.GetString("elasticsearch_url"),
		Snapshot:  v.GetString("snapshot"),
	}
}

type cliEnv struct {
	cfg     *settings
	engine  *ubac.Engine
	cleanup func()
}

func setup(verbose bool) *cliEnv {
	cfg := loadSettings()
	log := logger.NewPhusluLogger()
	if verbose {
		log.SetVerbose()
	}
	engine, cleanup, err := buildEngine(context.Background(), cfg, log)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(2)
	}
	return &cliEnv{cfg: cfg, engine: engine, cleanup: cleanup}
}

func buildEngine(ctx context.Context, cfg *settings, log ubac.Logger) (*ubac.Engine, func(), error) {
	opts := []ubac.Option{ubac.WithLogger(log)}
	cleanup := func() {}

	switch cfg.Driver {
	case "", "memory":
	case "sqlite":
		sqlDB, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		db := squealx.NewDb(sqlDB, "sqlite", "ubac")
		if err := stores.Migrate(ctx, db); err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		audit, err := stores.NewSQLAuditStore(db)
		if err != nil {
			sqlDB.Close()
			return nil, nil, err
		}
		opts = append(opts,
			ubac.WithPermissionStore(stores.NewSQLPermissionStore(db)),
			ubac.WithAttributeStore(stores.NewSQLAttributeStore(db)),
			ubac.WithAuditLog(audit),
			ubac.WithRoleResolver(stores.NewSQLRoleDirectory(db)),
		)
		cleanup = func() { sqlDB.Close() }
	case "postgres":
		pool, err := stores.ConnectPostgres(ctx, cfg.DSN, 0)
		if err != nil {
			return nil, nil, err
		}
		if err := stores.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		opts = append(opts,
			ubac.WithPermissionStore(stores.NewPGPermissionStore(pool)),
			ubac.WithAttributeStore(stores.NewPGAttributeStore(pool)),
			ubac.WithAuditLog(stores.NewPGAuditStore(pool)),
			ubac.WithRoleResolver(stores.NewPGRoleDirectory(pool)),
		)
		cleanup = func() { pool.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		opts = append(opts, ubac.WithRoleResolver(stores.NewRedisRoleDirectory(client)))
		prev := cleanup
		cleanup = func() {
			client.Close()
			prev()
		}
	}
	if cfg.ESURL != "" {
		esStore, err := stores.NewESAuditStore(cfg.ESURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, ubac.WithAuditLog(esStore))
	}

	engine, err := ubac.New(opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.Snapshot != "" {
		snap, err := ubac.NewConfigLoader().LoadFile(cfg.Snapshot)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("load snapshot: %w", err)
		}
		if err := engine.ApplyConfig(ctx, snap); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("apply snapshot: %w", err)
		}
	}
	return engine, cleanup, nil
}

func commonFlags(fs *flag.FlagSet) (output, file *string, verbose *bool) {
	output = fs.String("output", "", "output format: table, csv or json")
	file = fs.String("file", "", "write output to file instead of stdout")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	fs.BoolVar(verbose, "v", false, "enable debug logging")
	return
}

func (e *cliEnv) format(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if e.cfg.Output != "" {
		return e.cfg.Output
	}
	return "table"
}

// emit writes the result in the requested format. JSON serializes payload;
// table and csv render the header and rows.
func emit(format, file string, payload any, header []string, rows [][]string) error {
	var out string
	switch format {
	case "json":
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return err
		}
		out = string(data) + "\n"
	case "csv":
		var sb strings.Builder
		w := csv.NewWriter(&sb)
		if err := w.Write(header); err != nil {
			return err
		}
		if err := w.WriteAll(rows); err != nil {
			return err
		}
		out = sb.String()
	case "table":
		var sb strings.Builder
		sb.WriteString(strings.Join(header, "\t") + "\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t") + "\n")
		}
		out = sb.String()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
	if file != "" {
		return os.WriteFile(file, []byte(out), 0o644)
	}
	fmt.Print(out)
	return nil
}

func fail(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(2)
	}
}

func parseTimeFlag(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := date.Parse(s)
	if err != nil {
		fmt.Printf("Error: invalid timestamp %q: %v\n", s, err)
		os.Exit(2)
	}
	return t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func handleCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	output, file, verbose := commonFlags(fs)
	explain := fs.Bool("explain", false, "print the full decision without writing an audit record")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 4 {
		fmt.Println("Usage: ubacctl check [flags] <principal> <resource-type> <resource-name> <action>")
		os.Exit(2)
	}

	env := setup(*verbose)
	defer env.cleanup()
	ctx := context.Background()

	if *explain {
		d, err := env.engine.Explain(ctx, rest[0], rest[1], rest[2], rest[3])
		fail(err)
		header := []string{"granted", "reason", "roles", "correlation_id"}
		rows := [][]string{{
			strconv.FormatBool(d.Granted), d.Reason, strings.Join(d.Roles, ","), d.CorrelationID,
		}}
		fail(emit(env.format(*output), *file, d, header, rows))
		if !d.Granted {
			os.Exit(1)
		}
		return
	}

	granted, err := env.engine.CheckAccess(ctx, rest[0], rest[1], rest[2], rest[3])
	var auditErr *ubac.AuditWriteError
	if err != nil && !errors.As(err, &auditErr) {
		fail(err)
	}
	if auditErr != nil {
		fmt.Fprintf(os.Stderr, "warning: decision not audited: %v\n", auditErr.Err)
	}
	if env.format(*output) == "json" {
		fail(emit("json", *file, map[string]bool{"granted": granted}, nil, nil))
	} else {
		line := "DENIED"
		if granted {
			line = "GRANTED"
		}
		if *file != "" {
			fail(os.WriteFile(*file, []byte(line+"\n"), 0o644))
		} else {
			fmt.Println(line)
		}
	}
	if !granted {
		os.Exit(1)
	}
}

func handleGrant(args []string) {
	fs := flag.NewFlagSet("grant", flag.ExitOnError)
	_, _, verbose := commonFlags(fs)
	user := fs.String("user", "", "grant to this user")
	role := fs.String("role", "", "grant to this role")
	expires := fs.String("expires", "", "expiry timestamp, e.g. 2026-12-31T00:00:00Z")
	condition := fs.String("condition", "", "row condition, e.g. \"region = 'US'\"")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		fmt.Println("Usage: ubacctl grant [flags] <resource-type> <resource-name> <action>")
		os.Exit(2)
	}

	cond, err := ubac.ParseCondition(*condition)
	fail(err)
	expiresAt := parseTimeFlag(*expires)

	env := setup(*verbose)
	defer env.cleanup()

	p := ubac.Principal{User: *user, Role: *role}
	id, err := env.engine.Grant(context.Background(), rest[0], rest[1], rest[2], p, expiresAt, cond)
	fail(err)
	fmt.Printf("Grant stored: %s\n", id)
}

func handleRevoke(args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	_, _, verbose := commonFlags(fs)
	user := fs.String("user", "", "revoke from this user")
	role := fs.String("role", "", "revoke from this role")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		fmt.Println("Usage: ubacctl revoke [flags] <resource-type> <resource-name> <action>")
		os.Exit(2)
	}

	env := setup(*verbose)
	defer env.cleanup()

	p := ubac.Principal{User: *user, Role: *role}
	fail(env.engine.Revoke(context.Background(), rest[0], rest[1], rest[2], p))
	fmt.Println("Grant revoked")
}

func handleSetAttr(args []string) {
	fs := flag.NewFlagSet("set-attr", flag.ExitOnError)
	_, _, verbose := commonFlags(fs)
	expires := fs.String("expires", "", "expiry timestamp")
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		fmt.Println("Usage: ubacctl set-attr [flags] <principal> <name> <value>")
		os.Exit(2)
	}

	expiresAt := parseTimeFlag(*expires)

	env := setup(*verbose)
	defer env.cleanup()

	fail(env.engine.SetAttribute(context.Background(), rest[0], rest[1], rest[2], expiresAt))
	fmt.Printf("Attribute %s set for %s\n", rest[1], rest[0])
}

func handlePermissions(args []string) {
	fs := flag.NewFlagSet("permissions", flag.ExitOnError)
	output, file, verbose := commonFlags(fs)
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Println("Usage: ubacctl permissions [flags] <principal>")
		os.Exit(2)
	}

	env := setup(*verbose)
	defer env.cleanup()

	perms, err := env.engine.GetPermissions(context.Background(), rest[0])
	fail(err)

	header := []string{"resource_type", "resource_name", "action", "granted_via", "expires_at", "condition"}
	rows := make([][]string, 0, len(perms))
	for _, p := range perms {
		cond := ""
		if p.Condition != nil {
			cond = p.Condition.Render()
		}
		rows = append(rows, []string{p.ResourceType, p.ResourceName, p.Action, p.GrantedVia, formatTime(p.ExpiresAt), cond})
	}
	fail(emit(env.format(*output), *file, perms, header, rows))
}

func handleAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	output, file, verbose := commonFlags(fs)
	start := fs.String("start", "", "window start timestamp")
	end := fs.String("end", "", "window end timestamp")
	principal := fs.String("principal", "", "filter by principal")
	raw := fs.Bool("raw", false, "print individual records instead of the aggregated report")
	limit := fs.Int("limit", 0, "maximum records in raw mode")
	fs.Parse(args)
	if len(fs.Args()) != 0 {
		fmt.Println("Usage: ubacctl audit [flags]")
		os.Exit(2)
	}

	startAt := parseTimeFlag(*start)
	endAt := parseTimeFlag(*end)

	env := setup(*verbose)
	defer env.cleanup()
	ctx := context.Background()

	if *raw {
		recs, err := env.engine.GetAuditTrail(ctx, ubac.AuditFilter{
			Principal: *principal,
			StartTime: startAt,
			EndTime:   endAt,
			Limit:     *limit,
		})
		fail(err)
		header := []string{"timestamp", "principal_name", "resource_type", "resource_name", "action", "granted", "reason", "correlation_id"}
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{
				formatTime(r.Timestamp), r.PrincipalName, r.ResourceType, r.ResourceName,
				r.Action, strconv.FormatBool(r.Granted), r.Reason, r.CorrelationID,
			})
		}
		fail(emit(env.format(*output), *file, recs, header, rows))
		return
	}

	report, err := env.engine.GetAuditReport(ctx, startAt, endAt, *principal)
	fail(err)
	header := []string{"principal_name", "resource_type", "resource_name", "action", "granted", "reason", "count", "last_access"}
	rows := make([][]string, 0, len(report))
	for _, r := range report {
		rows = append(rows, []string{
			r.PrincipalName, r.ResourceType, r.ResourceName, r.Action,
			strconv.FormatBool(r.Granted), r.Reason, strconv.Itoa(r.Count), formatTime(r.LastAccess),
		})
	}
	fail(emit(env.format(*output), *file, report, header, rows))
}

func handleFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	output, file, verbose := commonFlags(fs)
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 3 {
		fmt.Println("Usage: ubacctl filter [flags] <principal> <table> <base-query>")
		os.Exit(2)
	}

	env := setup(*verbose)
	defer env.cleanup()

	q, err := env.engine.BuildFilteredQuery(context.Background(), rest[0], rest[1], rest[2])
	fail(err)
	if env.format(*output) == "json" {
		fail(emit("json", *file, map[string]string{"query": q}, nil, nil))
		return
	}
	if *file != "" {
		fail(os.WriteFile(*file, []byte(q+"\n"), 0o644))
		return
	}
	fmt.Println(q)
}

func handleApply(args []string) {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	_, _, verbose := commonFlags(fs)
	fs.Parse(args)
	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Println("Usage: ubacctl apply [flags] <file>")
		os.Exit(2)
	}

	cfg, err := ubac.NewConfigLoader().LoadFile(rest[0])
	fail(err)

	env := setup(*verbose)
	defer env.cleanup()

	fail(env.engine.ApplyConfig(context.Background(), cfg))
	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Grants loaded: %d\n", len(cfg.Grants))
	fmt.Printf("  Attributes loaded: %d\n", len(cfg.Attributes))
	fmt.Printf("  Rules loaded: %d\n", len(cfg.Rules))
	fmt.Printf("  Memberships loaded: %d\n", len(cfg.Memberships))
}

const starterConfig = `# ubacctl configuration. Every value may be overridden with an UBAC_*
# environment variable (UBAC_DRIVER, UBAC_DSN, UBAC_OUTPUT, ...).

driver: sqlite   # memory, sqlite or postgres
dsn: ubac.db     # sqlite file, or a postgres DSN for driver: postgres
output: table    # table, csv or json

# redis_addr: localhost:6379
#   role directory in Redis instead of the SQL one

# elasticsearch_url: http://localhost:9200
#   audit log in Elasticsearch instead of the SQL one

# snapshot: state.yaml
#   engine state (grants, attributes, rules, memberships) applied at startup
`

func handleInitConfig(args []string) {
	path := "ubac.yaml"
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Error: %s already exists\n", path)
		os.Exit(2)
	}
	fail(os.WriteFile(path, []byte(starterConfig), 0o644))
	fmt.Printf("Wrote %s\n", path)
}
