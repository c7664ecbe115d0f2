package ingestion_engine

import (
	"fmt"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// reporter keeps the events of one run non-decreasing and stops after the
// first terminal event.
type reporter struct {
	pub    core.ProgressPublisher
	doc    string
	user   string
	last   int
	closed bool
}

func newReporter(pub core.ProgressPublisher, job Job) *reporter {
	return &reporter{pub: pub, doc: job.DocumentID, user: job.UserID}
}

func (r *reporter) send(ev models.Progress) {
	if r.closed || r.pub == nil {
		return
	}
	ev.DocumentID = r.doc
	ev.UserID = r.user
	ev.Percent = min(max(ev.Percent, r.last), 100)
	r.last = ev.Percent
	if ev.Terminal {
		r.closed = true
	}
	r.pub.Publish(ev)
}

func (r *reporter) emit(pct int, status string) {
	r.send(models.Progress{Percent: pct, Status: status})
}

func (r *reporter) complete(redirect string) {
	r.send(models.Progress{Percent: 100, Status: "Complete", Redirect: redirect, Terminal: true})
}

// fail keeps the last percentage so the sequence stays monotonic.
func (r *reporter) fail(err error) {
	r.send(models.Progress{
		Percent:  r.last,
		Status:   "Error processing PDF",
		Error:    fmt.Sprintf("Error processing PDF: %v", err),
		Terminal: true,
	})
}
