package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitGeneralError)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	act := func(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
		return run(stdout, stderr, fn)
	}

	return &cli.App{
		Name:      "tagfeed",
		Usage:     "A tag-driven social feed for the terminal",
		Version:   "0.1.0",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "YAML configuration file",
				EnvVars: []string{"TAGFEED_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Local database file path (session cache and local backend)",
			},
			&cli.StringFlag{
				Name:    "backend",
				Aliases: []string{"b"},
				Usage:   "Backend: local, supabase or postgres",
			},
			&cli.StringFlag{
				Name:  "metrics-file",
				Usage: "Write backend request metrics to this file on exit",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Debug logging to stderr",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Sign in with Google",
				Action: act(login),
			},
			{
				Name:   "logout",
				Usage:  "Sign out",
				Action: act(logout),
			},
			{
				Name:   "whoami",
				Usage:  "Show the signed-in user",
				Action: act(whoami),
			},
			{
				Name:  "delete-account",
				Usage: "Delete your posts, preferences and profile, then sign out",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "yes", Usage: "Confirm deletion"},
				},
				Action: act(deleteAccount),
			},
			{
				Name:   "migrate",
				Usage:  "Create the backend tables (postgres backend)",
				Action: act(migrate),
			},
			{
				Name:  "feed",
				Usage: "Show every post, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "since",
						Aliases: []string{"s"},
						Usage:   "Show posts since duration (e.g., 7d, 2w, 3m, 1y)",
					},
				},
				Action: act(globalFeed),
				Subcommands: []*cli.Command{
					{
						Name:  "watch",
						Usage: "Refetch the feed on an interval and on local changes",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "since",
								Aliases: []string{"s"},
								Usage:   "Show posts since duration (e.g., 7d, 2w, 3m, 1y)",
							},
							&cli.DurationFlag{
								Name:  "every",
								Usage: "Refetch interval (default from config)",
							},
							&cli.IntFlag{
								Name:  "count",
								Usage: "Stop after this many snapshots (0 runs until interrupted)",
							},
						},
						Action: act(watchFeed),
					},
				},
			},
			{
				Name:   "foryou",
				Usage:  "Show recent posts matching your preferred tags",
				Action: act(forYou),
			},
			{
				Name:  "tags",
				Usage: "Manage preferred tags",
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "List preferred tags",
						Action: act(listTags),
					},
					{
						Name:      "add",
						Usage:     "Add preferred tags",
						ArgsUsage: "<tag>...",
						Action:    act(addTags),
					},
					{
						Name:      "remove",
						Usage:     "Remove preferred tags",
						ArgsUsage: "<tag>...",
						Action:    act(removeTags),
					},
					{
						Name:  "export",
						Usage: "Export preferred tags as OPML",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "output",
								Aliases: []string{"o"},
								Usage:   "Output file (default: stdout)",
							},
						},
						Action: act(exportTags),
					},
					{
						Name:      "import",
						Usage:     "Import preferred tags from OPML",
						ArgsUsage: "<opml-file>",
						Action:    act(importTags),
					},
				},
			},
			{
				Name:  "post",
				Usage: "Write posts",
				Subcommands: []*cli.Command{
					{
						Name:  "create",
						Usage: "Create a post",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Post title"},
							&cli.StringFlag{Name: "content", Aliases: []string{"c"}, Usage: "Post body (- reads stdin)"},
							&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
						},
						Action: act(createPost),
					},
					{
						Name:      "import",
						Usage:     "Create posts from RSS/Atom feed items",
						ArgsUsage: "<url>...",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "tags",
								Usage: "Comma-separated tags for items without categories",
							},
						},
						Action: act(importPosts),
					},
				},
			},
		},
	}
}
