package scheduler

import "testing"

func TestAddJobRejectsInvalidExpression(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron line", func() {}); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestAddJobAcceptsStandardExpressions(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	for _, expr := range []string{"* * * * *", DefaultSnapshotRefreshSpec, "*/5 * * * *"} {
		if err := s.AddJob(expr, func() {}); err != nil {
			t.Errorf("AddJob(%q): %v", expr, err)
		}
	}
}
