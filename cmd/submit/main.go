package main

// Submit documents and wait for the analysis:
//   go run ./cmd/submit -type pitch_deck deck.pdf financials.docx

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"startup-analyst/internal/bootstrap"
	"startup-analyst/internal/documents"
	"startup-analyst/internal/poller"
	"startup-analyst/internal/session"
	"startup-analyst/internal/shared/config"
)

func main() {
	docType := flag.String("type", string(documents.TypePitchDeck), "document type for every file")
	timeout := flag.Duration("timeout", 30*time.Minute, "give up waiting after this long")
	hide := flag.Bool("hide-duplicates", true, "hide older analyses of the same company")
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: submit [-type pitch_deck] [-timeout 30m] file...")
		os.Exit(2)
	}

	files, err := documents.FromPaths(flag.Args(), documents.ParseDocumentType(*docType))
	if err != nil {
		log.Fatalf("read files: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	done := make(chan session.Outcome, 1)
	app, err := bootstrap.Build(ctx, config.Load(), bootstrap.Options{
		SkipSchedules: true,
		OnFinish:      func(o session.Outcome) { done <- o },
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	sub, err := app.Tracker.Submit(ctx, files)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Printf("submitted %d job(s): %v\n", len(sub.JobIDs), sub.JobIDs)

	outcome, ok := wait(ctx, app.Tracker, done)
	if !ok {
		app.Tracker.Cancel()
		log.Fatalf("stopped waiting: %v", ctx.Err())
	}
	if outcome.Failed() {
		fmt.Fprintf(os.Stderr, "analysis failed: %s\n", outcome.Error)
		os.Exit(1)
	}
	for _, in := range outcome.Inserted {
		if in.Duplicate {
			fmt.Printf("skipped near-duplicate of %s\n", in.ID)
		}
	}
	printResults(app.Store, *hide)
}

// wait prints progress changes until the tracker finishes or ctx ends.
func wait(ctx context.Context, t *session.Tracker, done <-chan session.Outcome) (session.Outcome, bool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var last string
	for {
		select {
		case o := <-done:
			return o, true
		case <-ctx.Done():
			return session.Outcome{}, false
		case <-ticker.C:
			st := t.Status()
			if st.State != poller.StatePolling {
				continue
			}
			line := fmt.Sprintf("%5.1f%%  %s", st.Percent, st.Message)
			if line != last {
				fmt.Printf("%s  (%ds)\n", line, st.ElapsedSec)
				last = line
			}
		}
	}
}

func printResults(store *session.Store, hide bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCOMPANY\tSCORE\tRECOMMENDATION\tSECTOR\tCREATED")
	for _, r := range store.View(hide) {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.CompanyName, r.Score, r.Recommendation, r.Sector, r.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
}
