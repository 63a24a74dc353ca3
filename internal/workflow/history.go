package workflow

import (
	"encoding/json"
	"time"
)

// historyTruncateLen is the serialization cap applied when a history is
// embedded into a re-plan prompt (spec.md §4.7 step 4).
const historyTruncateLen = 4000

// Record is one step attempt appended to the workflow history, per
// spec.md §3's Step Record.
type Record struct {
	Step            string        `json:"step"`
	Command         string        `json:"command"`
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	ExitCode        int           `json:"exit_code"`
	SandboxLatency  time.Duration `json:"sandbox_latency"`
}

// history is the in-memory, FIFO-bounded list of step Records for one
// workflow, per SPEC_FULL.md's decided bound on spec.md §9's open
// question (unbounded in-memory history is a leak).
type history struct {
	records []Record
	maxLen  int
}

func newHistory(maxLen int) *history {
	if maxLen <= 0 {
		maxLen = 500
	}
	return &history{maxLen: maxLen}
}

// append adds r, evicting the oldest record if the bound is exceeded.
func (h *history) append(r Record) {
	h.records = append(h.records, r)
	if len(h.records) > h.maxLen {
		h.records = h.records[len(h.records)-h.maxLen:]
	}
}

// serialize truncates the JSON-encoded history to historyTruncateLen
// characters, matching main.py's json.dumps(history)[:4000].
func (h *history) serialize() string {
	data, err := json.Marshal(h.records)
	if err != nil {
		return "[]"
	}
	s := string(data)
	if len(s) > historyTruncateLen {
		return s[:historyTruncateLen]
	}
	return s
}
