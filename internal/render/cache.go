package render

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/John-Robertt/mihomocli/internal/cache"
)

// WriteCacheState prints the remembered last subscription URL and one line
// per cached subscription.
func WriteCacheState(w io.Writer, lastURL string, entries []cache.Entry, now time.Time) error {
	if _, err := fmt.Fprintf(w, "last-subscription-url: %s\n", orDefault(lastURL, "<none>")); err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "cached subscriptions: <none>")
		return err
	}
	if _, err := fmt.Fprintf(w, "cached subscriptions: %d\n", len(entries)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		updated := "-"
		if !e.UpdatedAt.IsZero() {
			updated = humanize.RelTime(e.UpdatedAt, now, "ago", "from now")
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\tetag=%s\n", e.ID, humanize.Bytes(uint64(e.Size)), updated, orDefault(e.ETag, "-"))
	}
	return tw.Flush()
}
