// Command bot connects to a server, mirrors one namespace, and applies
// command scripts read from stdin. Useful for poking at a live server.
package main

import (
	"bufio"
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"statecraft.ai/internal/authority"
	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/script"
	"statecraft.ai/internal/state"
)

func main() {
	var (
		url       = flag.String("url", "ws://localhost:8777/v1/ws", "ws url")
		name      = flag.String("name", "bot", "client name")
		session   = flag.String("session", "chat_1", "session id")
		namespace = flag.String("namespace", "MC", "namespace")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	sel := protocol.Selector{Session: *session, Namespace: *namespace}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	client, err := authority.Dial(ctx, *url, *name, sel, logger)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer client.Close()

	eng := state.New(client, state.Options{Selector: sel, Logger: logger})
	go func() { _ = eng.Run(ctx) }()

	if st := eng.WaitReady(ctx, 30*time.Second); st != state.AvailReady {
		logger.Fatalf("authority not ready: %s", st)
	}
	logger.Printf("ready; mirroring %s", sel.Key())

	off := eng.Bus().Subscribe("", func(ev state.PathEvent) {
		logger.Printf("changed %s: %s -> %s", ev.Path, ev.Old, ev.New)
	})
	defer off()

	// Read whole messages separated by blank lines; each one may carry
	// command blocks anywhere in its text.
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var lines []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		lines = lines[:0]
		if text == "" {
			return
		}
		apply(ctx, eng, logger, text)
	}
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == "" {
			flush()
			continue
		}
		lines = append(lines, sc.Text())
	}
	flush()
}

func apply(ctx context.Context, eng *state.Engine, logger *log.Logger, text string) {
	applyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	batch, rep, err := eng.ApplyText(applyCtx, text)
	if err != nil {
		logger.Printf("apply: %v", err)
		return
	}
	for _, d := range batch.Diagnostics {
		logger.Printf("skipped %q: %s", d.Fragment, d.Reason)
	}
	for _, r := range rep.Results {
		if r.OK {
			logger.Printf("%s %s ok", r.Cmd.Op, r.Cmd.Path)
		} else {
			logger.Printf("%s %s failed: %v", r.Cmd.Op, r.Cmd.Path, r.Err)
		}
	}
	logger.Printf("cycle: %s (%d/%d applied)", rep.Outcome, applied(rep.Results), len(rep.Results))
}

func applied(results []script.Result) int {
	n := 0
	for _, r := range results {
		if r.OK {
			n++
		}
	}
	return n
}
