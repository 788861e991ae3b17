package autoscan

import "testing"

func TestLMTTwoPhase(t *testing.T) {
	d := NewDirectory("/music", ModeTimed)

	// scanning starts on the root and one sub-directory
	d.SetCurrentLMT("/music", 0)
	d.SetCurrentLMT("/music/sub", 0)
	if got := d.ActiveScanCount(); got != 2 {
		t.Fatalf("ActiveScanCount = %d, want 2", got)
	}

	// while any sub-scan is active the previous LMT must not change
	d.SetCurrentLMT("/music/sub", 500)
	if d.UpdateLMT() {
		t.Error("UpdateLMT committed while a scan was still active")
	}
	if got := d.PreviousLMT(""); got != 0 {
		t.Errorf("previous LMT changed mid-scan: %d", got)
	}

	d.SetCurrentLMT("/music", 300)
	if got := d.ActiveScanCount(); got != 0 {
		t.Fatalf("ActiveScanCount = %d, want 0", got)
	}
	if !d.UpdateLMT() {
		t.Fatal("UpdateLMT must commit once all scans finished")
	}
	// committed value is the maximum observed mtime
	if got := d.PreviousLMT(""); got != 500 {
		t.Errorf("committed LMT = %d, want 500", got)
	}
}

func TestPreviousLMTPerPath(t *testing.T) {
	d := NewDirectory("/music", ModeTimed)
	d.SetCurrentLMT("/music/sub", 0)
	d.SetCurrentLMT("/music/sub", 700)
	if got := d.PreviousLMT("/music/sub"); got != 700 {
		t.Errorf("per-path LMT = %d, want 700", got)
	}
	if got := d.PreviousLMT("/music/other"); got != 0 {
		t.Errorf("unknown path must fall back to autoscan-wide LMT, got %d", got)
	}
}

func TestTaskCount(t *testing.T) {
	d := NewDirectory("/music", ModeTimed)
	d.IncTaskCount()
	d.IncTaskCount()
	d.DecTaskCount()
	if got := d.TaskCount(); got != 1 {
		t.Errorf("TaskCount = %d, want 1", got)
	}
	d.DecTaskCount()
	d.DecTaskCount() // must not go negative
	if got := d.TaskCount(); got != 0 {
		t.Errorf("TaskCount = %d, want 0", got)
	}
}
