package duel

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/you/chat-conference/internal/presenter"
)

func newTestDuel(tick time.Duration) (*Duel, *presenter.Recorder) {
	rec := &presenter.Recorder{}
	return New(rec, Options{Tick: tick}), rec
}

func TestVoteWhenIdle(t *testing.T) {
	d, _ := newTestDuel(time.Hour)
	if err := d.Vote("1"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("err = %v, want ErrNotActive", err)
	}
}

func TestVoteValidation(t *testing.T) {
	d, _ := newTestDuel(time.Hour)
	d.Start(600, 8)
	defer d.End("manual")

	for _, side := range []string{"3", "blue", "", "12"} {
		if err := d.Vote(side); !errors.Is(err, ErrInvalidSide) {
			t.Fatalf("Vote(%q) err = %v, want ErrInvalidSide", side, err)
		}
	}
	if err := d.Vote(" 2 "); err != nil {
		t.Fatalf("Vote(\" 2 \") err = %v", err)
	}
}

func TestStartSeedsBaseline(t *testing.T) {
	d, _ := newTestDuel(time.Hour)
	d.Start(600, 8)
	defer d.End("manual")

	st := d.Snapshot()
	if !st.Active {
		t.Fatal("duel not active after Start")
	}
	if st.Votes["1"] != 20 || st.Votes["2"] != 20 {
		t.Fatalf("baseline votes = %v, want 20/20", st.Votes)
	}
	if st.Ratios["1"] != 0.5 || st.Ratios["2"] != 0.5 {
		t.Fatalf("baseline ratios = %v, want 0.5/0.5", st.Ratios)
	}
	if st.TimeLeftS != 600 || st.TotalCircles != 8 {
		t.Fatalf("state = %+v", st)
	}
}

func TestThresholdAutoEndSnapsFullLine(t *testing.T) {
	d, rec := newTestDuel(time.Hour)
	d.Start(600, 8)

	// from the 20/20 baseline, side 1 needs 27 extra votes to reach 70%:
	// 47/(47+20) = 0.701
	for i := 0; i < 26; i++ {
		if err := d.Vote("1"); err != nil {
			t.Fatalf("vote %d: %v", i, err)
		}
		if !d.Active() {
			t.Fatalf("duel ended early at vote %d", i)
		}
	}
	rec.Reset()
	if err := d.Vote("1"); err != nil {
		t.Fatalf("final vote: %v", err)
	}

	if d.Active() {
		t.Fatal("duel still active past threshold")
	}

	calls := strings.Join(rec.Calls(), "\n")
	// full-line snap: all 8 blue circles on, all 8 red circles off
	for i := 1; i <= 8; i++ {
		if !strings.Contains(calls, fmt.Sprintf("vis Vote duel/Blue Circle %d=true", i)) {
			t.Fatalf("blue circle %d not forced on:\n%s", i, calls)
		}
		if !strings.Contains(calls, fmt.Sprintf("vis Vote duel/Red Circle %d=false", i)) {
			t.Fatalf("red circle %d not forced off:\n%s", i, calls)
		}
	}
	if !strings.Contains(calls, "text Timer=00:00") {
		t.Fatalf("timer not forced to 00:00:\n%s", calls)
	}
}

func TestTimerAutoEnd(t *testing.T) {
	// 10ms ticks stand in for seconds
	d, _ := newTestDuel(10 * time.Millisecond)
	d.Start(2, 8)

	deadline := time.After(2 * time.Second)
	for d.Active() {
		select {
		case <-deadline:
			t.Fatal("duel did not auto-end on timer")
		case <-time.After(5 * time.Millisecond):
		}
	}

	st := d.Snapshot()
	if st.Votes["1"] != 20 || st.Votes["2"] != 20 {
		t.Fatalf("votes mutated with no ballots: %v", st.Votes)
	}
}

func TestEndIdempotent(t *testing.T) {
	d, rec := newTestDuel(time.Hour)
	d.Start(600, 8)

	d.Vote("1")
	out, ended := d.End("manual")
	if !ended {
		t.Fatal("first End reported already-ended")
	}
	if out.Winner != 1 {
		t.Fatalf("winner = %d, want 1", out.Winner)
	}

	// let the cancelled countdown drain before counting side effects
	select {
	case <-d.done:
	case <-time.After(time.Second):
		t.Fatal("countdown did not exit after End")
	}

	rec.Reset()
	out2, ended2 := d.End("manual")
	if ended2 {
		t.Fatal("second End not idempotent")
	}
	if out2 != (Outcome{}) {
		t.Fatalf("second End outcome = %+v, want zero", out2)
	}
	if calls := rec.Calls(); len(calls) != 0 {
		t.Fatalf("second End fired side effects: %v", calls)
	}
}

func TestEndTieReportsNoWinner(t *testing.T) {
	d, _ := newTestDuel(time.Hour)
	d.Start(600, 8)
	d.Vote("1")
	d.Vote("2")

	out, ended := d.End("manual")
	if !ended {
		t.Fatal("End reported already-ended")
	}
	if out.Winner != 0 {
		t.Fatalf("winner = %d, want 0 on tie", out.Winner)
	}
	if out.Ratio != 0.5 {
		t.Fatalf("ratio = %v, want 0.5", out.Ratio)
	}
}

func TestRestartReplacesCountdown(t *testing.T) {
	d, _ := newTestDuel(10 * time.Millisecond)
	d.Start(600, 8)
	first := d.done
	d.Start(600, 8)
	second := d.done

	if first == second {
		t.Fatal("restart reused the old countdown task")
	}
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("previous countdown still alive after restart")
	}

	d.End("manual")
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("countdown did not exit after End")
	}
}

func TestRedundantRendersSkipped(t *testing.T) {
	d, rec := newTestDuel(time.Hour)
	d.Start(600, 8)
	defer d.End("manual")

	// two votes on side 1 settle the rounded circle counts at (6, 5); the
	// third vote moves the share too little to change them and must not
	// trigger another render or progress cue
	d.Vote("1")
	d.Vote("1")
	rec.Reset()
	d.Vote("1")

	for _, c := range rec.Calls() {
		if strings.HasPrefix(c, "vis ") {
			t.Fatalf("redundant render emitted: %q", c)
		}
	}
}

func TestConcurrentVotesExactCounts(t *testing.T) {
	d, _ := newTestDuel(time.Hour)
	// high threshold so the stress run cannot trip the auto-end
	d.opts.Threshold = 0.999
	d.Start(600, 8)
	defer d.End("manual")

	const perSide = 200
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		side := "1"
		if i%2 == 1 {
			side = "2"
		}
		wg.Add(1)
		go func(side string) {
			defer wg.Done()
			for j := 0; j < perSide/2; j++ {
				if err := d.Vote(side); err != nil {
					t.Errorf("vote: %v", err)
					return
				}
			}
		}(side)
	}
	wg.Wait()

	st := d.Snapshot()
	if st.Votes["1"] != 20+perSide || st.Votes["2"] != 20+perSide {
		t.Fatalf("votes = %v, want %d/%d", st.Votes, 20+perSide, 20+perSide)
	}
}

func TestConcurrentStartsSerialized(t *testing.T) {
	d, rec := newTestDuel(time.Hour)
	defer d.End("manual")

	const starts = 8
	var wg sync.WaitGroup
	for i := 0; i < starts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Start(600, 8)
		}()
	}
	wg.Wait()

	// each Start renders one uninterrupted visibility block: widget show, 16
	// circle toggles, then the two-call progress cue. Interleaved blocks mean
	// a second session was being rendered mid-retire. Timer text is excluded;
	// countdown goroutines emit it on their own schedule.
	var vis []string
	for _, call := range rec.Calls() {
		if strings.HasPrefix(call, "vis ") {
			vis = append(vis, call)
		}
	}
	const blockLen = 19
	if len(vis) != starts*blockLen {
		t.Fatalf("recorded %d visibility calls, want %d", len(vis), starts*blockLen)
	}
	for k := 0; k < starts; k++ {
		block := vis[k*blockLen : (k+1)*blockLen]
		if block[0] != "vis Conference and backdrop/Vote duel=true" {
			t.Fatalf("block %d starts with %q", k, block[0])
		}
		if block[blockLen-2] != "vis Vote duel/Duel Tick SFX=false" ||
			block[blockLen-1] != "vis Vote duel/Duel Tick SFX=true" {
			t.Fatalf("block %d ends with %q, %q", k, block[blockLen-2], block[blockLen-1])
		}
	}

	st := d.Snapshot()
	if !st.Active || st.Votes["1"] != 20 || st.Votes["2"] != 20 {
		t.Fatalf("state after concurrent starts = %+v", st)
	}
}
