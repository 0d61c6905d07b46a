package main

import "testing"

func TestParseDebugTagsRaisesWireLoggingOnlyForImapTag(t *testing.T) {
	level, wire := parseDebugTags("imap")
	if !wire {
		t.Error("wireLogging = false, want true for the imap tag")
	}
	if level != "debug" {
		t.Errorf("level = %q, want debug", level)
	}

	level, wire = parseDebugTags("")
	if wire {
		t.Error("wireLogging = true, want false with no tags")
	}
	if level != "info" {
		t.Errorf("level = %q, want info", level)
	}

	level, wire = parseDebugTags("thread")
	if wire {
		t.Error("wireLogging = true, want false for a non-imap tag")
	}
	if level != "debug" {
		t.Errorf("level = %q, want debug for any recognized debug tag", level)
	}
}

func TestSplitCSVTrimsAndDropsEmpties(t *testing.T) {
	got := splitCSV(" work ,personal,  ,archive")
	want := []string{"work", "personal", "archive"}
	if len(got) != len(want) {
		t.Fatalf("splitCSV() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitCSV()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSplitCSVEmptyInput(t *testing.T) {
	if got := splitCSV(""); got != nil {
		t.Errorf("splitCSV(\"\") = %v, want nil", got)
	}
}

func TestSelectSinkDefaultsToConsole(t *testing.T) {
	sink, err := selectSink("")
	if err != nil {
		t.Fatalf("selectSink(\"\"): %v", err)
	}
	if sink == nil {
		t.Error("selectSink(\"\") returned a nil Sink")
	}
}

func TestSelectSinkRejectsUnknownName(t *testing.T) {
	if _, err := selectSink("bogus"); err == nil {
		t.Error("selectSink(\"bogus\"): want an error")
	}
}
