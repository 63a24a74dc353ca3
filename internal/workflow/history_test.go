package workflow

import "testing"

func TestHistoryEvictsOldestOnOverflow(t *testing.T) {
	h := newHistory(2)
	h.append(Record{Step: "one"})
	h.append(Record{Step: "two"})
	h.append(Record{Step: "three"})

	if len(h.records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(h.records))
	}
	if h.records[0].Step != "two" || h.records[1].Step != "three" {
		t.Errorf("records = %v, want [two three]", h.records)
	}
}

func TestHistorySerializeTruncatesTo4000Chars(t *testing.T) {
	h := newHistory(500)
	for i := 0; i < 200; i++ {
		h.append(Record{Step: "a fairly long step description to pad out the json", Stdout: "output"})
	}
	s := h.serialize()
	if len(s) > historyTruncateLen {
		t.Errorf("serialize() length = %d, want <= %d", len(s), historyTruncateLen)
	}
}
