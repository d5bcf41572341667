package ftl

import "testing"

func TestStatsAvgLifetimeZeroSample(t *testing.T) {
	var s Stats
	if got := s.AvgLifetime(); got != 0 {
		t.Fatalf("avg lifetime with no samples: want 0 got %v", got)
	}
}

func TestStatsAvgLifetimeAccumulates(t *testing.T) {
	var s Stats
	s.RecordBlockLifetime(100)
	s.RecordBlockLifetime(200)
	s.RecordBlockLifetime(300)
	want := 200.0
	if got := s.AvgLifetime(); got != want {
		t.Fatalf("avg lifetime: want %v got %v", want, got)
	}
}

func TestStatsRecordCleanAccumulates(t *testing.T) {
	var s Stats
	s.RecordClean(5, 12.5, 30.0)
	s.RecordClean(3, 7.5, 10.0)
	if got := s.NumClean.Load(); got != 2 {
		t.Fatalf("num_clean: want 2 got %d", got)
	}
	if got := s.PagesMoved.Load(); got != 8 {
		t.Fatalf("pages_moved: want 8 got %d", got)
	}
	if got := s.TotXferCost.Load(); got != 20.0 {
		t.Fatalf("tot_xfer_cost: want 20.0 got %v", got)
	}
	if got := s.TotCleanTime.Load(); got != 40.0 {
		t.Fatalf("tot_clean_time: want 40.0 got %v", got)
	}
}

func TestStatsRecordRequestAccumulates(t *testing.T) {
	var s Stats
	s.RecordRequest(1.5)
	s.RecordRequest(2.5)
	if got := s.TotReqsIssued.Load(); got != 2 {
		t.Fatalf("tot_reqs_issued: want 2 got %d", got)
	}
	if got := s.TotTimeTaken.Load(); got != 4.0 {
		t.Fatalf("tot_time_taken: want 4.0 got %v", got)
	}
}
