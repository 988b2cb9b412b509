package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"
	"github.com/elonfeng/xhistory/internal/config"
	"github.com/elonfeng/xhistory/internal/scheduler"
	"github.com/elonfeng/xhistory/internal/store"
	"github.com/elonfeng/xhistory/pkg/fetch"
	"github.com/elonfeng/xhistory/pkg/ledger"
	"github.com/elonfeng/xhistory/pkg/notify"
	"github.com/elonfeng/xhistory/pkg/paging"
	"github.com/elonfeng/xhistory/pkg/post"
	"github.com/elonfeng/xhistory/pkg/server"
	"github.com/elonfeng/xhistory/pkg/source"
	"github.com/elonfeng/xhistory/pkg/transfer"
)

// app bundles the wired services every command works with.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	store    *store.SQLiteStore
	notify   *notify.Manager
	hub      *notify.Hub
	ledger   *ledger.Ledger
	resolver *fetch.Resolver
	transfer *transfer.Transfer
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newLogger(level string) *log.Logger {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "xhistory",
	})
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.Warn("unknown log level, using info", "level", level)
	}
	return logger
}

func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log.Level)

	db, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	hub := notify.NewHub(logger)
	mgr := notify.NewManager(hub)
	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL != "" {
		mgr.Add(notify.NewWebhook(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Secret))
	}

	endpoints := source.NewChain(source.ChainConfig{
		StatusAPIs: cfg.Fetch.StatusAPIs,
		OEmbeds:    cfg.Fetch.OEmbeds,
		NitterURL:  cfg.Fetch.NitterURL,
		Timeout:    cfg.Fetch.ParseTimeout(),
	})
	logger.Debug("endpoints configured", "count", len(endpoints))

	l := ledger.New(db, cfg.Ledger.Hosts, mgr, logger)
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    db,
		notify:   mgr,
		hub:      hub,
		ledger:   l,
		resolver: fetch.NewResolver(db, endpoints, logger),
		transfer: transfer.New(db, l, cfg.Ledger.Hosts, logger),
	}, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(a.ledger, a.store, a.resolver,
		a.cfg.Backfill.ParseInterval(),
		a.cfg.Paging.ParseItemDelay(),
		a.logger,
	)
}

func (a *app) server(port int) *server.Server {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(server.Deps{
		Store:    a.store,
		Ledger:   a.ledger,
		Resolver: a.resolver,
		Sessions: paging.NewRegistry(paging.Config{
			Resolver: a.resolver,
			Searcher: a.store,
			URLs:     a.ledger,
			PageSize: a.cfg.Paging.PageSize,
			Delay:    a.cfg.Paging.ParseItemDelay(),
		}),
		Transfer:       a.transfer,
		Hub:            a.hub,
		Logger:         a.logger,
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		PageSize:       a.cfg.Paging.PageSize,
	}, port)
}

func runRecord(ctx context.Context, rawURL string, fetchNow bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.ledger.RecordIfNew(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	switch {
	case res.Position < 0:
		return fmt.Errorf("not a post URL: %s", rawURL)
	case res.Inserted:
		fmt.Fprintf(os.Stderr, "recorded %s\n", res.URL)
	default:
		fmt.Fprintf(os.Stderr, "already recorded at position %d: %s\n", res.Position, res.URL)
	}

	if fetchNow {
		r := a.resolver.Resolve(ctx, res.URL)
		if r.State == fetch.StateFetched {
			if err := a.ledger.Annotate(ctx, r.Post); err != nil {
				a.logger.Warn("annotate failed", "error", err)
			}
		}
		fmt.Fprintf(os.Stderr, "metadata: %s\n", r.State)
	}
	return nil
}

func runList(ctx context.Context, page, size int, fetchNow, jsonOutput bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if size <= 0 {
		size = a.cfg.Paging.PageSize
	}
	urls, err := a.ledger.URLs(ctx)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	pageURLs := paging.Paginate(urls, page, size)

	var results []fetch.Result
	if fetchNow {
		results = a.resolver.ResolveMany(ctx, pageURLs, a.cfg.Paging.ParseItemDelay())
	} else {
		cached, err := a.store.GetPosts(ctx, pageURLs)
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}
		for i, p := range cached {
			if p == nil {
				results = append(results, fetch.Result{Post: post.Synthetic(pageURLs[i]), State: fetch.StateFallback})
				continue
			}
			results = append(results, fetch.FromCache(p))
		}
	}

	if jsonOutput {
		return writeJSON(os.Stdout, results)
	}
	if len(urls) == 0 {
		fmt.Println("no posts recorded yet (try: xhistory record <url>)")
		return nil
	}
	if err := printPosts(os.Stdout, page*size, results); err != nil {
		return err
	}
	if (page+1)*size < len(urls) {
		fmt.Fprintf(os.Stderr, "\npage %d of %d, next: --page %d\n", page+1, (len(urls)+size-1)/size, page+1)
	}
	return nil
}

func runShow(ctx context.Context, rawURL string, jsonOutput bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.resolver.Resolve(ctx, rawURL)
	if jsonOutput {
		return writeJSON(os.Stdout, res)
	}

	p := res.Post
	fmt.Printf("%s\n", p.URL)
	fmt.Printf("author:  %s\n", formatAuthor(p))
	if p.CreatedAt != "" {
		fmt.Printf("posted:  %s\n", p.CreatedAt)
	}
	fmt.Printf("source:  %s %s\n", res.State, res.Endpoint)
	if p.Engagement != nil {
		fmt.Printf("likes:   %d  reposts: %d  replies: %d\n", p.Engagement.Likes, p.Engagement.Reposts, p.Engagement.Replies)
	}
	if p.HasMedia() {
		fmt.Printf("media:   %d photos, %d videos\n", len(p.Media.Photos), len(p.Media.Videos))
	}
	if p.Text != "" {
		fmt.Printf("\n%s\n", p.Text)
	}
	return nil
}

func runSearch(ctx context.Context, terms []string, jsonOutput bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	posts, err := a.store.SearchPosts(ctx, strings.Join(terms, " "))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if jsonOutput {
		return writeJSON(os.Stdout, posts)
	}
	if len(posts) == 0 {
		fmt.Println("no matching posts")
		return nil
	}

	results := make([]fetch.Result, len(posts))
	for i, p := range posts {
		results[i] = fetch.FromCache(p)
	}
	return printPosts(os.Stdout, 0, results)
}

func runRemove(ctx context.Context, urls []string, withCache bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.ledger.Remove(ctx, urls)
	if err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	if withCache {
		for _, u := range urls {
			if c, err := post.Canonicalize(u); err == nil {
				u = c
			}
			if err := a.store.DeletePost(ctx, u); err != nil {
				return fmt.Errorf("remove: %w", err)
			}
		}
	}
	fmt.Fprintf(os.Stderr, "removed %d of %d urls\n", n, len(urls))
	return nil
}

func runClear(ctx context.Context, withCache bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.ledger.Clear(ctx); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	if withCache {
		if err := a.store.ClearPosts(ctx); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	fmt.Fprintln(os.Stderr, "history cleared")
	return nil
}

func runImport(ctx context.Context, path string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rep, err := a.transfer.Import(ctx, f)
	if errors.Is(err, transfer.ErrInvalidFormat) {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Fprintf(os.Stderr, "imported %d posts (%d new, %d updated, %d skipped, %d not cached), %d urls added to history\n",
		rep.Total-rep.Skipped, rep.Imported, rep.Updated, rep.Skipped, rep.Failed, rep.Merged)
	return nil
}

func runExport(ctx context.Context, out string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if out == "" {
		out = fmt.Sprintf("x-history-export-%s.json", time.Now().UTC().Format("2006-01-02"))
	}

	var w io.Writer = os.Stdout
	if out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		defer f.Close()
		w = f
	}

	n, err := a.transfer.Export(ctx, w)
	if err != nil {
		return err
	}
	if out != "-" {
		fmt.Fprintf(os.Stderr, "exported %d posts to %s\n", n, out)
	}
	return nil
}

func runBackfill(ctx context.Context) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.scheduler().Backfill(ctx)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	fmt.Fprintf(os.Stderr, "checked %d, missing %d, fetched %d, failed %d\n",
		stats.Checked, stats.Missing, stats.Fetched, stats.Failed)
	return nil
}

func runServe(port int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return ignoreShutdown(a.server(port).ListenAndServe(ctx))
}

func runDaemon(port int) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.cfg.Backfill.Enabled {
		sched := a.scheduler()
		go func() {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("scheduler error", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down")
	}()

	return ignoreShutdown(a.server(port).ListenAndServe(ctx))
}

func ignoreShutdown(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func printPosts(w io.Writer, offset int, results []fetch.Result) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tAUTHOR\tTEXT\tURL")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", offset+i+1, formatAuthor(r.Post), truncate(r.Post.Text, 60), r.Post.URL)
	}
	return tw.Flush()
}

func formatAuthor(p *post.Post) string {
	switch {
	case p.AuthorDisplayName != "" && p.AuthorHandle != "":
		return fmt.Sprintf("%s (@%s)", p.AuthorDisplayName, p.AuthorHandle)
	case p.AuthorHandle != "":
		return "@" + p.AuthorHandle
	default:
		return "-"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
