// diag is an offline inspection tool: it loads an instance file, builds the
// visibility caches and prints per-link windows, the schedule lower bound
// and the line graph without starting the HTTP server.
//
// Usage: diag <instance-file> [step-size-seconds]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/orblink/orblink/internal/instance"
	"github.com/orblink/orblink/internal/oracle"
	"github.com/orblink/orblink/internal/windows"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: diag <instance-file> [step-size-seconds]")
		os.Exit(1)
	}

	step := 1.0
	if len(os.Args) > 2 {
		f, err := strconv.ParseFloat(os.Args[2], 64)
		if err != nil || f <= 0 {
			fmt.Fprintln(os.Stderr, "ERROR: step size must be a positive number")
			os.Exit(1)
		}
		step = f
	}

	inst, err := instance.Load(os.Args[1], logger)
	if err != nil {
		fmt.Println("ERROR loading instance:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d bodies, %d links (radius %.1f km, mu %.4f)\n",
		len(inst.Bodies), len(inst.Links), inst.Radius, inst.Mu)

	start := time.Now()
	set := windows.BuildAll(context.Background(), inst, step, runtime.NumCPU(), logger)
	stats := set.Stats()
	fmt.Printf("Built caches for %d links in %v (%d intervals, %d never visible)\n",
		stats.Links, time.Since(start).Round(time.Millisecond), stats.Intervals, stats.NeverVisible)

	eng := oracle.New(inst, set, oracle.NewStore(), step)
	fmt.Printf("Schedule lower bound: %.1f s\n", eng.LowerBound())

	for li, l := range inst.Links {
		cache := set.Cache(li)
		fmt.Printf("  link %d (%d-%d): period %.1f s", li, l.A, l.B, cache.Period())
		if cache.Empty() {
			fmt.Println(", never visible")
			continue
		}
		fmt.Println()
		for _, iv := range cache.Intervals() {
			fmt.Printf("    visible [%.1f, %.1f)\n", iv.Start, iv.End)
		}
		if tv := eng.NextVisibility(li, 0); !math.IsInf(tv, 1) {
			fmt.Printf("    next visibility from t=0: %.1f s\n", tv)
		}
	}

	fmt.Println("Line graph adjacency:")
	for li, neighbors := range inst.LineGraph() {
		fmt.Printf("  link %d: %v\n", li, neighbors)
	}
}
