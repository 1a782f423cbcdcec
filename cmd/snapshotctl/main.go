// snapshotctl inspects and maintains simcore snapshot stores.
//
// Usage:
//
//	go run ./cmd/snapshotctl <command> [-dir path] [-dsn postgres-url] [-keep n]
//
// Commands: list, show, prune, migrate
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mudforge/engine/internal/snapshot"
	"github.com/mudforge/engine/internal/spatial"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	dir := fs.String("dir", "snapshots", "snapshot directory (file store)")
	dsn := fs.String("dsn", "", "Postgres DSN (overrides -dir when set)")
	keep := fs.Int("keep", 5, "rows/files to retain for prune")
	fs.Parse(os.Args[2:])

	var err error
	switch cmd {
	case "list":
		err = runList(*dir, *dsn)
	case "show":
		err = runShow(*dir, *dsn)
	case "prune":
		err = runPrune(*dir, *dsn, *keep)
	case "migrate":
		err = runMigrate(*dsn)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshotctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: snapshotctl <list|show|prune|migrate> [-dir path] [-dsn url] [-keep n]")
}

func connect(dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return pgxpool.New(ctx, dsn)
}

func latest(dir, dsn string) (snapshot.Snapshot, bool, error) {
	if dsn != "" {
		pool, err := connect(dsn)
		if err != nil {
			return snapshot.Snapshot{}, false, err
		}
		defer pool.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return snapshot.NewPostgresStore(pool).Latest(ctx)
	}
	store, err := snapshot.NewFileStore(dir, 0)
	if err != nil {
		return snapshot.Snapshot{}, false, err
	}
	return store.Latest()
}

func runList(dir, dsn string) error {
	if dsn != "" {
		snap, found, err := latest(dir, dsn)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("store is empty")
			return nil
		}
		fmt.Printf("latest: tick %d, captured %s\n", snap.Tick, time.Unix(snap.CapturedAtEpoch, 0).UTC().Format(time.RFC3339))
		return nil
	}
	store, err := snapshot.NewFileStore(dir, 0)
	if err != nil {
		return err
	}
	entries := store.List()
	if len(entries) == 0 {
		fmt.Println("store is empty")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("tick %-12d  %s\n", e.Tick, e.ModTime.UTC().Format(time.RFC3339))
	}
	return nil
}

func runShow(dir, dsn string) error {
	snap, found, err := latest(dir, dsn)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("store is empty")
	}

	fmt.Printf("schema version: %d\n", snap.SchemaVersion)
	fmt.Printf("tick:           %d\n", snap.Tick)
	fmt.Printf("captured:       %s\n", time.Unix(snap.CapturedAtEpoch, 0).UTC().Format(time.RFC3339))
	fmt.Printf("entities:       %d live, %d slots, %d free\n",
		len(snap.Entities), len(snap.Allocator.Generations), len(snap.Allocator.FreeList))

	switch snap.Spatial.Backend {
	case spatial.BackendRoomGraph:
		occupants := 0
		for _, r := range snap.Spatial.Rooms {
			occupants += len(r.Occupants)
		}
		fmt.Printf("spatial:        room graph, %d rooms, %d occupants\n", len(snap.Spatial.Rooms), occupants)
	case spatial.BackendGrid:
		occupants := 0
		for _, c := range snap.Spatial.Cells {
			occupants += len(c.Occupants)
		}
		fmt.Printf("spatial:        grid %dx%d at (%d,%d), %d occupied cells, %d occupants\n",
			snap.Spatial.Width, snap.Spatial.Height, snap.Spatial.OriginX, snap.Spatial.OriginY,
			len(snap.Spatial.Cells), occupants)
	}

	for _, e := range snap.Entities {
		fmt.Printf("  entity %d/%d:", e.Handle.Index(), e.Handle.Generation())
		for _, c := range e.Components {
			fmt.Printf(" c%d(%dB)", c.ComponentID, len(c.Payload))
		}
		fmt.Println()
	}
	return nil
}

func runPrune(dir, dsn string, keep int) error {
	if dsn != "" {
		pool, err := connect(dsn)
		if err != nil {
			return err
		}
		defer pool.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := snapshot.NewPostgresStore(pool).Prune(ctx, keep); err != nil {
			return err
		}
		fmt.Printf("pruned to %d rows\n", keep)
		return nil
	}
	// The file store prunes on every successful write; forcing a prune
	// without a write means re-opening it with the requested keep count
	// and rewriting the newest snapshot.
	store, err := snapshot.NewFileStore(dir, keep)
	if err != nil {
		return err
	}
	snap, found, err := store.Latest()
	if err != nil {
		return err
	}
	if !found {
		fmt.Println("store is empty")
		return nil
	}
	if err := store.Write(snap); err != nil {
		return err
	}
	fmt.Printf("pruned to %d files\n", keep)
	return nil
}

func runMigrate(dsn string) error {
	if dsn == "" {
		return fmt.Errorf("migrate requires -dsn")
	}
	pool, err := connect(dsn)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := snapshot.RunMigrations(ctx, pool); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}
