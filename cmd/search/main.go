// Command search looks up stored links by substring and prints them with
// their grouped contexts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/seabird/chitter/internal/config"
	"github.com/seabird/chitter/internal/domain"
	"github.com/seabird/chitter/internal/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()
	query := flag.Arg(0)
	if query == "" {
		return fmt.Errorf("usage: search <substring>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	results, err := store.Search(context.Background(), query)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for _, agg := range results {
		fmt.Println(agg.URL)
		fmt.Println("users:", strings.Join(agg.Users, ", "))
		fmt.Println("last seen:", agg.LastSeen.Format("2006-01-02 15:04:05"))

		reshares, originals := domain.GroupContexts(agg.Contexts)
		for _, o := range originals {
			fmt.Printf("    %s\n", o.User)
			fmt.Printf("    %s\n", o.Text)
			if o.Repeats > 0 {
				fmt.Printf("    (seen %d more times)\n", o.Repeats)
			}
			for _, sub := range o.Sub {
				fmt.Printf("    > %s\n", sub.User)
				fmt.Printf("    > %s\n", sub.Text)
			}
		}
		for _, r := range reshares {
			fmt.Printf("    %s (reshared by %s)\n", r.User, strings.Join(r.Resharers, ", "))
			fmt.Printf("    %s\n", r.Text)
		}
		fmt.Println(strings.Repeat("==", 20))
	}
	return nil
}
