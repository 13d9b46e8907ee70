package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"pongnet/core/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing match recordings")
	match := flag.String("match", "", "only list recordings of this match")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	entries = replaycatalog.Filter(entries, *match)

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (manifest v%d)\n", entry.Dir, entry.Manifest.Version)
		fmt.Printf("  match: %s\n", entry.Manifest.MatchID)
		fmt.Printf("  created: %s\n", entry.Manifest.CreatedAt)
		if len(entry.Manifest.Settings) > 0 {
			keys := make([]string, 0, len(entry.Manifest.Settings))
			for key := range entry.Manifest.Settings {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			fmt.Printf("  settings:\n")
			for _, key := range keys {
				fmt.Printf("    %s: %s\n", key, entry.Manifest.Settings[key])
			}
		}
	}
}
