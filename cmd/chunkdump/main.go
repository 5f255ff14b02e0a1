// Command chunkdump prints what a SQLite chunk database holds.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"voxelstream.ai/internal/chunks"
	"voxelstream.ai/internal/events"
	"voxelstream.ai/internal/persistence/chunkdb"
	"voxelstream.ai/internal/persistence/codec"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/tuning"
)

func main() {
	var (
		dbPath     = flag.String("db", "./data/chunks.sqlite", "path to the chunk database")
		configPath = flag.String("config", "", "stream.yaml for block names (optional)")
		verbose    = flag.Bool("v", false, "decode each chunk: run counts, block histogram, digest check")
		eventsDir  = flag.String("events", "", "data dir whose events/ log to summarize (optional)")
	)
	flag.Parse()

	tune, err := tuning.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	reg, err := tune.Registry()
	if err != nil {
		fmt.Fprintln(os.Stderr, "palette:", err)
		os.Exit(1)
	}

	if *dbPath != "" {
		if _, err := os.Stat(*dbPath); err != nil {
			fmt.Fprintln(os.Stderr, "open db:", err)
			os.Exit(1)
		}
		s, err := chunkdb.OpenSQLite(*dbPath, nil)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open db:", err)
			os.Exit(1)
		}
		defer s.Close()
		if err := dumpChunks(context.Background(), os.Stdout, s, reg, *verbose); err != nil {
			fmt.Fprintln(os.Stderr, "dump:", err)
			os.Exit(1)
		}
	}

	if *eventsDir != "" {
		if err := dumpEvents(os.Stdout, *eventsDir); err != nil {
			fmt.Fprintln(os.Stderr, "events:", err)
			os.Exit(1)
		}
	}
}

type chunkSource interface {
	List(ctx context.Context) ([]chunkdb.Row, error)
	Load(ctx context.Context, pos chunks.Pos) (*codec.ChunkStore, bool, error)
}

func dumpChunks(ctx context.Context, w io.Writer, s chunkSource, reg *chunks.Registry, verbose bool) error {
	rows, err := s.List(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "chunks=%d\n", len(rows))
	for _, r := range rows {
		fmt.Fprintf(w, "%s bytes=%d entities=%d digest=%s updated=%s\n",
			r.Pos, r.Size, r.Entities, short(r.Digest), r.UpdatedAt)
		if !verbose {
			continue
		}
		st, ok, err := s.Load(ctx, r.Pos)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(w, "  missing on reload\n")
			continue
		}
		if err := describe(w, st, reg); err != nil {
			fmt.Fprintf(w, "  corrupt: %v\n", err)
		}
	}
	return nil
}

func describe(w io.Writer, st *codec.ChunkStore, reg *chunks.Registry) error {
	raw, err := codec.Decompress(st.Data)
	if err != nil {
		return err
	}
	rec, err := codec.Decode(raw)
	if err != nil {
		return err
	}
	lengths, _ := codec.Runs16(rec.Blocks)
	fmt.Fprintf(w, "  block runs=%d", len(lengths))
	for i, ch := range rec.Extra {
		if ch == nil {
			fmt.Fprintf(w, " extra[%d]=empty", i)
			continue
		}
		el, _ := codec.Runs32(ch)
		fmt.Fprintf(w, " extra[%d] runs=%d", i, len(el))
	}
	fmt.Fprintln(w)

	c := rec.Chunk()
	if d := c.Digest(); d != st.Digest {
		fmt.Fprintf(w, "  digest MISMATCH stored=%s decoded=%s\n", short(hex.EncodeToString(st.Digest[:])), short(hex.EncodeToString(d[:])))
	}

	hist := map[uint16]int{}
	for _, b := range rec.Blocks {
		hist[b]++
	}
	ids := make([]uint16, 0, len(hist))
	for id := range hist {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return hist[ids[i]] > hist[ids[j]] || (hist[ids[i]] == hist[ids[j]] && ids[i] < ids[j]) })
	for _, id := range ids {
		name := fmt.Sprintf("#%d", id)
		if d, ok := reg.Def(id); ok {
			name = d.Name
		}
		fmt.Fprintf(w, "  %-10s %d\n", name, hist[id])
	}
	for _, e := range st.RestoreEntities() {
		fmt.Fprintf(w, "  entity %s at %v\n", e.Prefab, e.Pos)
	}
	return nil
}

// dumpEvents counts logged events per kind.
func dumpEvents(w io.Writer, dataDir string) error {
	files, err := persistlog.EventFiles(dataDir)
	if err != nil {
		return err
	}
	counts := map[events.Kind]int{}
	total := 0
	for _, f := range files {
		es, err := persistlog.ReadEvents(f)
		if err != nil {
			return err
		}
		for _, e := range es {
			counts[e.Kind]++
		}
		total += len(es)
	}
	fmt.Fprintf(w, "event files=%d events=%d\n", len(files), total)
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-20s %d\n", k, counts[events.Kind(k)])
	}
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
