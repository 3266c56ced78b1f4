// Package scheduler provides cron-based maintenance scheduling for
// MessagePipe.
//
// It drives the periodic full chat snapshot refresh that lets group-change
// detection recover after missed poll windows.
package scheduler

import (
	"github.com/robfig/cron/v3"
)

// DefaultSnapshotRefreshSpec refreshes all chat snapshots hourly.
const DefaultSnapshotRefreshSpec = "0 * * * *"

// Scheduler runs maintenance jobs on cron expressions. Jobs here are
// low-frequency housekeeping; sub-second polling stays in the listeners.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a scheduler. Jobs can be added while it is
// running.
func NewScheduler() *Scheduler {
	// Standard 5-field expressions (min, hour, dom, month, dow); a panicking
	// job is recovered so one bad refresh cannot take the engine down.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules a task. An invalid expression is reported immediately
// rather than at first run.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// Stop halts scheduling; a job already running finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
