package audit

import "fmt"

// Check statuses.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusWarn = "warn"
)

// Check is the outcome of one verification rule.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report is the result of verifying an audit chain.
type Report struct {
	EntryCount int     `json:"entry_count"`
	Valid      bool    `json:"valid"`
	Checks     []Check `json:"checks"`
}

func (r *Report) add(name string, ok bool, failStatus, detail string) {
	c := Check{Name: name, Status: StatusPass}
	if !ok {
		c.Status = failStatus
		c.Detail = detail
		if failStatus == StatusFail {
			r.Valid = false
		}
	}
	r.Checks = append(r.Checks, c)
}

// VerifyChain checks entries, oldest first, for a genesis anchor,
// contiguous sequence numbers, correct per-entry hashes, unbroken links and
// non-decreasing timestamps. Timestamp regressions only warn.
func VerifyChain(entries []Entry) Report {
	r := Report{EntryCount: len(entries), Valid: true}
	if len(entries) == 0 {
		r.Checks = append(r.Checks, Check{Name: "empty_chain", Status: StatusPass, Detail: "no entries to verify"})
		return r
	}

	first := entries[0]
	r.add("genesis_anchor", first.PrevHash == GenesisHash && first.Seq == 1, StatusFail,
		fmt.Sprintf("first entry seq=%d prev_hash=%s", first.Seq, first.PrevHash))

	seqOK, seqDetail := true, ""
	for i := 1; i < len(entries); i++ {
		if entries[i].Seq != entries[i-1].Seq+1 {
			seqOK = false
			seqDetail = fmt.Sprintf("entry %d has seq=%d after seq=%d", i, entries[i].Seq, entries[i-1].Seq)
			break
		}
	}
	r.add("sequence_contiguous", seqOK, StatusFail, seqDetail)

	hashOK, hashDetail := true, ""
	for i, e := range entries {
		if e.ComputeHash() != e.Hash {
			hashOK = false
			hashDetail = fmt.Sprintf("entry %d (id=%s) content does not match its hash", i, e.ID)
			break
		}
	}
	r.add("entry_hashes", hashOK, StatusFail, hashDetail)

	linkOK, linkDetail := true, ""
	for i := 1; i < len(entries); i++ {
		if entries[i].PrevHash != entries[i-1].Hash {
			linkOK = false
			linkDetail = fmt.Sprintf("entry %d (id=%s) does not link to entry %d", i, entries[i].ID, i-1)
			break
		}
	}
	r.add("chain_continuity", linkOK, StatusFail, linkDetail)

	seen := make(map[string]int, len(entries))
	dupOK, dupDetail := true, ""
	for i, e := range entries {
		if prev, ok := seen[e.ID]; ok {
			dupOK = false
			dupDetail = fmt.Sprintf("entry %d and entry %d share id=%s", prev, i, e.ID)
			break
		}
		seen[e.ID] = i
	}
	r.add("no_duplicate_ids", dupOK, StatusFail, dupDetail)

	tsOK, tsDetail := true, ""
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp.Before(entries[i-1].Timestamp) {
			tsOK = false
			tsDetail = fmt.Sprintf("entry %d is earlier than entry %d", i, i-1)
			break
		}
	}
	r.add("monotonic_timestamps", tsOK, StatusWarn, tsDetail)

	return r
}

func (r *Report) addHeadCheck(entries []Entry, head Head) {
	var last Head
	if n := len(entries); n > 0 {
		last = Head{Seq: entries[n-1].Seq, Hash: entries[n-1].Hash}
	}
	r.add("head_matches", last == head, StatusFail,
		fmt.Sprintf("chain ends at seq=%d but head records seq=%d", last.Seq, head.Seq))
}
