package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"statecraft.ai/internal/config"
	"statecraft.ai/internal/hub"
	"statecraft.ai/internal/persistence/indexdb"
	persistlog "statecraft.ai/internal/persistence/log"
	"statecraft.ai/internal/persistence/snapshot"
	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/transport/ws"
	"statecraft.ai/internal/vars"
)

func main() {
	var (
		addr       = flag.String("addr", "", "listen address (overrides config)")
		configPath = flag.String("config", "", "path to server.yaml (optional)")
		disableDB  = flag.Bool("disable_db", false, "disable the audit index")
		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from the snapshot dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if strings.TrimSpace(*addr) != "" {
		cfg.Listen = *addr
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(cfg.Index.Path)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
	}

	journal := persistlog.NewPushLogger(cfg.Journal.Dir)
	defer journal.Close()

	h := hub.New(hub.Config{
		MaxTreeBytes:    cfg.Limits.MaxTreeBytes,
		MaxSingleEvents: cfg.Limits.MaxSingleEvents,
		OnPush:          auditPush(idx, journal, logger),
	}, logger)

	if err := resume(h, cfg, *snapPath, *loadLatest, logger); err != nil {
		logger.Fatalf("resume: %v", err)
	}
	seed(h, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	go snapshotLoop(ctx, h, idx, cfg.Snapshot, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", ws.NewServer(h, logger).Handler())
	srv := &http.Server{Addr: cfg.Listen, Handler: mux}

	go func() {
		logger.Printf("listening on %s", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Printf("shutting down")

	if err := writeSnapshot(context.Background(), h, idx, cfg.Snapshot, logger); err != nil {
		logger.Printf("final snapshot: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()
}

func auditPush(idx *indexdb.SQLiteIndex, journal *persistlog.PushLogger, logger *log.Logger) func(protocol.Selector, uint64, []hub.Change) {
	return func(sel protocol.Selector, rev uint64, changes []hub.Change) {
		entry := persistlog.PushEntry{
			Session: sel.Session, Namespace: sel.Namespace,
			Revision: rev, At: time.Now().UTC().Format(time.RFC3339Nano),
		}
		for _, ch := range changes {
			entry.Changes = append(entry.Changes, persistlog.PushChange{
				Path: ch.Path, Old: []byte(jsonOrEmpty(ch.Old)), New: []byte(jsonOrEmpty(ch.New)),
			})
		}
		if err := journal.WritePush(entry); err != nil {
			logger.Printf("journal: %v", err)
		}

		idx.RecordCycle(indexdb.CycleRow{
			Session: sel.Session, Namespace: sel.Namespace,
			Revision: rev, Outcome: "pushed", Commands: len(changes),
		})
		for _, ch := range changes {
			idx.RecordChange(indexdb.ChangeRow{
				Session: sel.Session, Namespace: sel.Namespace,
				Revision: rev, Path: ch.Path, Op: "push",
				OldJSON: jsonOrEmpty(ch.Old), NewJSON: jsonOrEmpty(ch.New),
			})
		}
	}
}

func jsonOrEmpty(v *vars.Value) string {
	if v == nil {
		return ""
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}

// resume seeds the hub from a snapshot before Run starts.
func resume(h *hub.Hub, cfg config.Config, snapPath string, loadLatest bool, logger *log.Logger) error {
	path := strings.TrimSpace(snapPath)
	if path == "" && loadLatest {
		latest, err := snapshot.Latest(cfg.Snapshot.Dir)
		if err != nil {
			return err
		}
		path = latest
	}
	if path == "" {
		return nil
	}
	snap, err := snapshot.Read(path)
	if err != nil {
		return err
	}
	for _, e := range snap.Entries {
		tree, err := vars.FromJSON(e.Tree)
		if err != nil {
			logger.Printf("snapshot entry %s/%s: bad tree, skipped: %v", e.Session, e.Namespace, err)
			continue
		}
		h.Seed(protocol.Selector{Session: e.Session, Namespace: e.Namespace}, tree, e.Revision)
	}
	logger.Printf("resumed %d trees from %s", len(snap.Entries), path)
	return nil
}

// seed installs configured trees for selectors the snapshot did not cover.
func seed(h *hub.Hub, cfg config.Config) {
	for _, s := range cfg.Seeds {
		tree := vars.FromGo(s.Tree)
		h.Seed(protocol.Selector{Session: s.Session, Namespace: s.Namespace}, tree, 0)
	}
}

func snapshotLoop(ctx context.Context, h *hub.Hub, idx *indexdb.SQLiteIndex, spec config.SnapshotSpec, logger *log.Logger) {
	ticker := time.NewTicker(spec.Every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeSnapshot(ctx, h, idx, spec, logger); err != nil {
				logger.Printf("snapshot: %v", err)
			}
		}
	}
}

func writeSnapshot(ctx context.Context, h *hub.Hub, idx *indexdb.SQLiteIndex, spec config.SnapshotSpec, logger *log.Logger) error {
	exports, err := h.ExportAll(ctx)
	if err != nil {
		return err
	}
	if len(exports) == 0 {
		return nil
	}
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{CreatedAt: time.Now().UTC().Format(time.RFC3339)},
	}
	for _, e := range exports {
		raw, err := e.Tree.MarshalJSON()
		if err != nil {
			continue
		}
		snap.Entries = append(snap.Entries, snapshot.EntryV1{
			Session:   e.Selector.Session,
			Namespace: e.Selector.Namespace,
			Revision:  e.Revision,
			Tree:      raw,
		})
	}
	path := filepath.Join(spec.Dir, snapshot.FileName(time.Now()))
	if err := snapshot.Write(path, snap); err != nil {
		return err
	}
	idx.RecordSnapshot(path, len(snap.Entries))
	logger.Printf("snapshot %s (%d trees)", path, len(snap.Entries))
	return nil
}
