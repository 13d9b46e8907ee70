package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"pongnet/core/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a recording directory or manifest.json")
	asJSON := flag.Bool("json", false, "Print the decoded recording as JSON instead of playing it")
	speed := flag.Float64("speed", 0, "Playback speed multiplier; 0 prints without pauses")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	summary, err := replayplayer.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(3)
		}
		return
	}

	fmt.Printf("match %s recorded %s, %d frames, final score %d-%d\n",
		summary.MatchID, summary.CreatedAt, summary.Frames, summary.FinalScore.Left, summary.FinalScore.Right)
	for _, mark := range summary.Marks {
		fmt.Printf("  %-10s tick %d at %dms\n", mark.Type, mark.Tick, mark.SimulatedMs)
	}
	if err := replayplayer.Play(os.Stdout, summary, *speed, nil); err != nil {
		fmt.Fprintln(os.Stderr, "play error:", err)
		os.Exit(3)
	}
}
