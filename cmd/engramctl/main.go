// engramctl is the operator CLI for token and tenant-graph management.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/engram-labs/engram/internal/auth"
	"github.com/engram-labs/engram/internal/config"
	"github.com/engram-labs/engram/internal/graph"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] + " " + os.Args[2] {
	case "token create":
		err = tokenCreate(os.Args[3:])
	case "token list":
		err = tokenList(os.Args[3:])
	case "token revoke":
		err = tokenRevoke(os.Args[3:])
	case "graphs list":
		err = graphsList(os.Args[3:])
	case "graphs drop":
		err = graphsDrop(os.Args[3:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: engramctl <command> [flags]

commands:
  token create   mint an API key and store its grant
  token list     list stored token grants
  token revoke   deactivate a token by id
  graphs list    list tenant graphs
  graphs drop    delete a tenant graph (requires -force)

run 'engramctl <command> -h' for flags`)
}

func openStore(configPath string) (*auth.RedisStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Auth.RedisAddr,
		Password: cfg.Auth.RedisPassword,
		DB:       cfg.Auth.RedisDB,
	})
	store, err := auth.NewRedisStore(rdb, auth.StoreConfig{}, zap.NewNop())
	if err != nil {
		rdb.Close()
		return nil, nil, err
	}
	cleanup := func() {
		store.Close()
		rdb.Close()
	}
	return store, cleanup, nil
}

func openGraph(ctx context.Context, configPath string) (*graph.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return graph.NewClient(ctx, graph.ClientConfig{
		Addr:           cfg.Graph.Addr,
		Password:       cfg.Graph.Password,
		DB:             cfg.Graph.DB,
		MaxRetries:     1,
		RequestTimeout: cfg.Graph.RequestTimeout,
		QueryTimeout:   cfg.Graph.QueryTimeout,
	}, zap.NewNop())
}

func tokenCreate(args []string) error {
	fs := flag.NewFlagSet("token create", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	name := fs.String("name", "", "token display name")
	user := fs.String("user", "", "user id the token acts as")
	org := fs.String("org", "", "organization id")
	orgSlug := fs.String("org-slug", "", "organization slug")
	scopes := fs.String("scopes", "memory:read,memory:write", "comma-separated scopes")
	rateLimit := fs.Int("rate-limit", 0, "requests per minute (0 = server default)")
	tokenType := fs.String("type", "live", "token type: live or test")
	expiresIn := fs.Duration("expires-in", 0, "lifetime, e.g. 720h (0 = never expires)")
	fs.Parse(args)

	if *user == "" || *org == "" || *orgSlug == "" {
		return fmt.Errorf("-user, -org, and -org-slug are required")
	}

	raw, err := auth.MintAPIKey(auth.Type(*tokenType))
	if err != nil {
		return err
	}

	rec := &auth.Record{
		ID:        "tok_" + strings.ToLower(ulid.Make().String()),
		Name:      *name,
		UserID:    *user,
		OrgID:     *org,
		OrgSlug:   *orgSlug,
		Scopes:    strings.Split(*scopes, ","),
		RateLimit: *rateLimit,
		GrantType: "api_key",
		IsActive:  true,
	}
	if *expiresIn > 0 {
		rec.ExpiresAt = time.Now().Add(*expiresIn).UnixMilli()
	}

	store, cleanup, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Create(ctx, raw, rec); err != nil {
		return err
	}

	fmt.Printf("token created\n\n")
	fmt.Printf("  id:     %s\n", rec.ID)
	fmt.Printf("  prefix: %s\n", auth.Prefix(raw))
	fmt.Printf("  scopes: %s\n\n", *scopes)
	fmt.Printf("  %s\n\n", raw)
	fmt.Printf("this is the only time the full token is shown; store it now\n")
	return nil
}

func tokenList(args []string) error {
	fs := flag.NewFlagSet("token list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.Parse(args)

	store, cleanup, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	records, err := store.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPREFIX\tNAME\tORG\tSCOPES\tRATE\tACTIVE\tCREATED")
	for _, rec := range records {
		created := time.UnixMilli(rec.CreatedAt).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
			rec.ID, rec.Prefix, rec.Name, rec.OrgSlug,
			strings.Join(rec.Scopes, ","), rec.RateLimit, rec.IsActive, created)
	}
	return w.Flush()
}

func tokenRevoke(args []string) error {
	fs := flag.NewFlagSet("token revoke", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	id := fs.String("id", "", "token id to revoke")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	store, cleanup, err := openStore(*configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Revoke(ctx, *id); err != nil {
		return err
	}
	fmt.Printf("token %s revoked\n", *id)
	return nil
}

func graphsList(args []string) error {
	fs := flag.NewFlagSet("graphs list", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := openGraph(ctx, *configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	names, err := client.List(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func graphsDrop(args []string) error {
	fs := flag.NewFlagSet("graphs drop", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config file")
	name := fs.String("name", "", "graph name to delete")
	force := fs.Bool("force", false, "confirm deletion")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("-name is required")
	}
	if !*force {
		return fmt.Errorf("refusing to drop %q without -force", *name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	client, err := openGraph(ctx, *configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Delete(ctx, *name); err != nil {
		return err
	}
	fmt.Printf("graph %s dropped\n", *name)
	return nil
}
