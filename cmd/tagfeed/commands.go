package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/robertmeta/tagfeed/apperror"
	"github.com/robertmeta/tagfeed/auth"
	"github.com/robertmeta/tagfeed/compose"
	"github.com/robertmeta/tagfeed/config"
	"github.com/robertmeta/tagfeed/feed"
	"github.com/robertmeta/tagfeed/model"
	"github.com/robertmeta/tagfeed/opml"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// fetchConcurrency bounds parallel feed downloads in `post import`.
const fetchConcurrency = 8

func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func login(c *cli.Context, e *env) error {
	if !e.cfg.LoginConfigured() {
		return cli.Exit("Google sign-in needs GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET", ExitUsageError)
	}

	flow := auth.NewFlow(e.sessions, auth.Options{
		ClientID:     e.cfg.Google.ClientID,
		ClientSecret: e.cfg.Google.ClientSecret,
		CallbackAddr: e.cfg.Google.CallbackAddr,
		Prompt: func(url string) error {
			_, err := fmt.Fprintf(e.stderr, "Open this URL in your browser to sign in:\n\n  %s\n\n", url)
			return err
		},
	}, e.logger.Named("auth"))

	info, created, err := flow.SignIn(c.Context)
	if err != nil {
		return err
	}
	if created {
		if _, err := e.account().SyncProfile(c.Context); err != nil {
			e.logger.Warn("syncing profile failed", zap.Error(err))
		}
	}

	return outputJSON(e.stdout, map[string]interface{}{
		"user":        info,
		"new_session": created,
	})
}

func logout(c *cli.Context, e *env) error {
	if err := e.account().Logout(c.Context); err != nil {
		return err
	}
	return outputJSON(e.stdout, map[string]interface{}{"success": true})
}

func whoami(c *cli.Context, e *env) error {
	info, err := e.account().Show(c.Context)
	if err != nil {
		return err
	}
	return outputJSON(e.stdout, info)
}

func deleteAccount(c *cli.Context, e *env) error {
	if !c.Bool("yes") {
		return cli.Exit("Refusing to delete without --yes", ExitUsageError)
	}
	if err := e.account().Delete(c.Context); err != nil {
		return err
	}
	return outputJSON(e.stdout, map[string]interface{}{"success": true})
}

func migrate(c *cli.Context, e *env) error {
	switch e.cfg.Backend {
	case config.BackendPostgres:
		if err := e.pg.Migrate(c.Context); err != nil {
			return err
		}
	case config.BackendSupabase:
		return cli.Exit("The supabase backend is migrated from the project dashboard", ExitUsageError)
	}
	// The local schema is created when the database is opened.
	return outputJSON(e.stdout, map[string]interface{}{
		"success": true,
		"backend": e.cfg.Backend,
	})
}

func globalFeed(c *cli.Context, e *env) error {
	from, err := since(c)
	if err != nil {
		return err
	}

	posts, err := e.assembler().Global(c.Context, from)
	if err != nil {
		return err
	}
	return outputJSON(e.stdout, map[string]interface{}{
		"count": len(posts),
		"posts": posts,
	})
}

func watchFeed(c *cli.Context, e *env) error {
	from, err := since(c)
	if err != nil {
		return err
	}
	every := e.cfg.WatchEvery
	if c.IsSet("every") {
		every = c.Duration("every")
	}
	if every <= 0 {
		return cli.Exit("--every must be positive", ExitUsageError)
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	limit := int64(c.Int("count"))
	var seen atomic.Int64
	logger := e.logger.Named("watch")

	r := feed.NewRefresher(e.assembler(), from, logger)
	r.Subscribe(func(snap feed.Snapshot) {
		if snap.Err != nil {
			fmt.Fprintf(e.stderr, "Notice: refreshing feed failed: %v\n", snap.Err)
		} else if err := json.NewEncoder(e.stdout).Encode(map[string]interface{}{
			"generation": snap.Generation,
			"at":         snap.At,
			"count":      len(snap.Posts),
			"posts":      snap.Posts,
		}); err != nil {
			logger.Warn("writing snapshot failed", zap.Error(err))
		}
		if limit > 0 && seen.Add(1) >= limit {
			cancel()
		}
	})

	sources := []<-chan struct{}{feed.Ticker(ctx, every)}
	if e.cfg.Backend == config.BackendLocal && e.cfg.DBPath != ":memory:" {
		changes, err := feed.WatchFile(ctx, e.cfg.DBPath, logger)
		if err != nil {
			logger.Warn("watching database failed, polling only", zap.Error(err))
		} else {
			sources = append(sources, changes)
		}
	}

	r.Run(ctx, feed.Merge(ctx, sources...))
	return nil
}

func forYou(c *cli.Context, e *env) error {
	p := e.prefs()
	tags, err := p.Load(c.Context)
	if err != nil {
		return err
	}
	posts := p.Feed()
	return outputJSON(e.stdout, map[string]interface{}{
		"tags":  tags,
		"count": len(posts),
		"posts": posts,
	})
}

func listTags(c *cli.Context, e *env) error {
	tags, err := e.prefs().Load(c.Context)
	if err != nil {
		return err
	}
	return outputJSON(e.stdout, map[string]interface{}{"tags": tags})
}

func addTags(c *cli.Context, e *env) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: tagfeed tags add <tag>...", ExitUsageError)
	}

	p := e.prefs()
	if _, err := p.Load(c.Context); err != nil {
		return err
	}

	added := []string{}
	for _, raw := range c.Args().Slice() {
		changed, err := p.Add(c.Context, raw)
		if err != nil {
			return err
		}
		if changed {
			added = append(added, model.NormalizeTag(raw))
		}
	}

	return outputJSON(e.stdout, map[string]interface{}{
		"added":      added,
		"tags":       p.Tags(),
		"feed_count": len(p.Feed()),
	})
}

func removeTags(c *cli.Context, e *env) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: tagfeed tags remove <tag>...", ExitUsageError)
	}

	p := e.prefs()
	if _, err := p.Load(c.Context); err != nil {
		return err
	}

	removed := []string{}
	for _, tag := range c.Args().Slice() {
		changed, err := p.Remove(c.Context, tag)
		if err != nil {
			return err
		}
		if changed {
			removed = append(removed, tag)
		}
	}

	return outputJSON(e.stdout, map[string]interface{}{
		"removed":    removed,
		"tags":       p.Tags(),
		"feed_count": len(p.Feed()),
	})
}

func exportTags(c *cli.Context, e *env) error {
	tags, err := e.prefs().Load(c.Context)
	if err != nil {
		return err
	}
	owner, _ := e.sessions.Resolve(c.Context)

	outputPath := c.String("output")
	var writer io.Writer = e.stdout
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to create output file: %v", err), ExitDataError)
		}
		defer file.Close()
		writer = file
	}

	if err := opml.Generate(writer, tags, owner); err != nil {
		return cli.Exit(fmt.Sprintf("Failed to generate OPML: %v", err), ExitDataError)
	}

	if outputPath != "" {
		return outputJSON(e.stdout, map[string]interface{}{
			"success": true,
			"file":    outputPath,
			"count":   len(tags),
		})
	}
	return nil
}

func importTags(c *cli.Context, e *env) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: tagfeed tags import <opml-file>", ExitUsageError)
	}

	file, err := os.Open(c.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to open OPML file: %v", err), ExitDataError)
	}
	defer file.Close()

	tags, err := opml.Parse(file)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Failed to parse OPML: %v", err), ExitDataError)
	}

	p := e.prefs()
	if _, err := p.Load(c.Context); err != nil {
		return err
	}

	imported, skipped := 0, 0
	for _, tag := range tags {
		changed, err := p.Add(c.Context, tag)
		if err != nil {
			return err
		}
		if changed {
			imported++
		} else {
			skipped++
		}
	}

	return outputJSON(e.stdout, map[string]interface{}{
		"success":  true,
		"imported": imported,
		"skipped":  skipped,
		"total":    len(tags),
		"tags":     p.Tags(),
	})
}

func createPost(c *cli.Context, e *env) error {
	content := c.String("content")
	if content == "-" {
		data, err := io.ReadAll(c.App.Reader)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Failed to read content: %v", err), ExitDataError)
		}
		content = string(data)
	}

	form := compose.NewForm(e.gw, e.sessions, e.logger.Named("compose"))
	form.Title = c.String("title")
	form.Content = content
	form.Tags = c.String("tags")

	post, err := form.Submit(c.Context)
	if err != nil {
		return err
	}
	return outputJSON(e.stdout, map[string]interface{}{
		"success": true,
		"post":    post,
	})
}

func importPosts(c *cli.Context, e *env) error {
	if c.NArg() < 1 {
		return cli.Exit("Usage: tagfeed post import <url>...", ExitUsageError)
	}
	if _, ok := e.sessions.Resolve(c.Context); !ok {
		return apperror.SignedOut()
	}

	defaultTags := model.ParseTagList(c.String("tags"))
	fetcher := feed.NewFetcher()

	results := make(map[string]interface{})
	totalCreated := 0

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, fetchConcurrency)

	for _, url := range c.Args().Slice() {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			source, err := fetcher.Fetch(c.Context, url, defaultTags)
			if err != nil {
				mu.Lock()
				results[url] = map[string]interface{}{"error": err.Error()}
				mu.Unlock()
				return
			}

			created, skipped := 0, 0
			var failure error
			for _, d := range source.Drafts {
				form := compose.NewForm(e.gw, e.sessions, e.logger.Named("compose"))
				form.Title, form.Content, form.Tags = d.Title, d.Content, strings.Join(d.Tags, ",")
				if _, err := form.Submit(c.Context); err != nil {
					if apperror.IsTransient(err) {
						failure = err
						break
					}
					skipped++
					continue
				}
				created++
			}

			result := map[string]interface{}{
				"title":   source.Title,
				"created": created,
				"skipped": skipped,
				"items":   len(source.Drafts),
			}
			if failure != nil {
				result["error"] = failure.Error()
			}

			mu.Lock()
			totalCreated += created
			results[url] = result
			mu.Unlock()
		}(url)
	}

	wg.Wait()

	return outputJSON(e.stdout, map[string]interface{}{
		"feeds":         c.NArg(),
		"total_created": totalCreated,
		"results":       results,
	})
}
