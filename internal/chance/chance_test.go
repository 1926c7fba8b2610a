package chance

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/you/chat-conference/internal/presenter"
)

func newTestGames() (*Games, *presenter.Recorder) {
	rec := &presenter.Recorder{}
	return New(rec, Options{}), rec
}

// fixedPick returns the given values in order, then repeats the last one.
func fixedPick(values ...int) func(int) int {
	i := 0
	return func(int) int {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v
	}
}

func TestShootGunFiredCue(t *testing.T) {
	g, rec := newTestGames()
	g.pick = fixedPick(0)

	if !g.ShootGun() {
		t.Fatal("pick 0 should fire the gun")
	}
	want := []string{
		"vis Conference and backdrop/Gun Shot SFX=false",
		"vis Conference and backdrop/Gun Shot SFX=true",
	}
	got := rec.Calls()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("calls = %v", got)
	}
}

func TestShootGunEmptyCue(t *testing.T) {
	g, rec := newTestGames()
	g.pick = fixedPick(1)

	if g.ShootGun() {
		t.Fatal("pick 1 should click empty")
	}
	got := rec.Calls()
	if len(got) != 2 || got[1] != "vis Conference and backdrop/Empty Gun SFX=true" {
		t.Fatalf("calls = %v", got)
	}
}

func TestFlipGunAlternates(t *testing.T) {
	g, rec := newTestGames()

	if p := g.FlipGun(); p != 2 {
		t.Fatalf("first flip faces player %d, want 2", p)
	}
	if p := g.FlipGun(); p != 1 {
		t.Fatalf("second flip faces player %d, want 1", p)
	}

	want := []string{
		"filter Conference and backdrop/Flip gun right=true",
		"filter Conference and backdrop/Flip gun left=true",
	}
	got := rec.Calls()
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("calls = %v", got)
	}
}

func TestToggleGunVisibility(t *testing.T) {
	g, rec := newTestGames()

	if !g.ToggleGun() {
		t.Fatal("first toggle should hide")
	}
	if g.ToggleGun() {
		t.Fatal("second toggle should show")
	}
	got := rec.Calls()
	if got[0] != "vis Conference and backdrop/gun=false" || got[1] != "vis Conference and backdrop/gun=true" {
		t.Fatalf("calls = %v", got)
	}
	if g.Snapshot().GunHidden {
		t.Fatal("gun should be visible again")
	}
}

func TestStartCratesRendersBoard(t *testing.T) {
	g, rec := newTestGames()
	g.pick = fixedPick(4) // bomb under crate 5

	g.StartCrates()

	calls := rec.Calls()
	if len(calls) != 2*NumCrates+1 {
		t.Fatalf("recorded %d calls, want %d", len(calls), 2*NumCrates+1)
	}
	for i := 1; i <= NumCrates; i++ {
		if calls[2*(i-1)] != fmt.Sprintf("vis Crate Game/Crate %d=true", i) {
			t.Fatalf("call %d = %q", 2*(i-1), calls[2*(i-1)])
		}
		if calls[2*(i-1)+1] != fmt.Sprintf("vis Crate Game/Bomb %d=false", i) {
			t.Fatalf("call %d = %q", 2*(i-1)+1, calls[2*(i-1)+1])
		}
	}
	if calls[len(calls)-1] != "vis Crate Game/Bomb 5=true" {
		t.Fatalf("last call = %q", calls[len(calls)-1])
	}
	if st := g.Snapshot(); !st.CratesActive || len(st.Opened) != 0 {
		t.Fatalf("state = %+v", st)
	}
}

func TestSelectCrateSafe(t *testing.T) {
	g, rec := newTestGames()
	g.pick = fixedPick(4)
	g.StartCrates()
	rec.Reset()

	boom, err := g.SelectCrate(3)
	if err != nil || boom {
		t.Fatalf("SelectCrate(3) = %v, %v", boom, err)
	}
	want := []string{
		"vis Crate Game/Drum Roll SFX=false",
		"vis Crate Game/Drum Roll SFX=true",
		"vis Crate Game/Crate 3=false",
		"vis Crate Game/Safe Crate SFX=false",
		"vis Crate Game/Safe Crate SFX=true",
	}
	got := rec.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %q, want %q", i, got[i], want[i])
		}
	}
	st := g.Snapshot()
	if !st.CratesActive || len(st.Opened) != 1 || st.Opened[0] != 3 {
		t.Fatalf("state = %+v", st)
	}
}

func TestSelectCrateBoomEndsGame(t *testing.T) {
	g, rec := newTestGames()
	g.pick = fixedPick(4)
	g.StartCrates()
	rec.Reset()

	boom, err := g.SelectCrate(5)
	if err != nil || !boom {
		t.Fatalf("SelectCrate(5) = %v, %v", boom, err)
	}
	got := rec.Calls()
	if got[len(got)-1] != "vis Crate Game/Explosion SFX=true" {
		t.Fatalf("calls = %v", got)
	}
	if g.Snapshot().CratesActive {
		t.Fatal("game should end on the bomb")
	}
	if _, err := g.SelectCrate(2); !errors.Is(err, ErrNotActive) {
		t.Fatalf("select after boom = %v, want ErrNotActive", err)
	}
}

func TestSelectCrateRejectsReopenAndRange(t *testing.T) {
	g, _ := newTestGames()
	g.pick = fixedPick(4)

	if _, err := g.SelectCrate(1); !errors.Is(err, ErrNotActive) {
		t.Fatalf("select before start = %v, want ErrNotActive", err)
	}

	g.StartCrates()
	if _, err := g.SelectCrate(0); !errors.Is(err, ErrCrateRange) {
		t.Fatalf("crate 0 = %v, want ErrCrateRange", err)
	}
	if _, err := g.SelectCrate(NumCrates + 1); !errors.Is(err, ErrCrateRange) {
		t.Fatalf("crate 13 = %v, want ErrCrateRange", err)
	}
	if _, err := g.SelectCrate(2); err != nil {
		t.Fatal(err)
	}
	if _, err := g.SelectCrate(2); !errors.Is(err, ErrCrateOpened) {
		t.Fatalf("reopen = %v, want ErrCrateOpened", err)
	}
}

func TestResetCratesClearsBoard(t *testing.T) {
	g, rec := newTestGames()
	g.pick = fixedPick(4)
	g.StartCrates()
	if _, err := g.SelectCrate(2); err != nil {
		t.Fatal(err)
	}
	rec.Reset()

	g.ResetCrates()

	calls := rec.Calls()
	if len(calls) != 2*NumCrates {
		t.Fatalf("recorded %d calls, want %d", len(calls), 2*NumCrates)
	}
	for _, call := range calls {
		if !strings.HasSuffix(call, "=false") {
			t.Fatalf("reset left something visible: %q", call)
		}
	}
	st := g.Snapshot()
	if st.CratesActive || len(st.Opened) != 0 {
		t.Fatalf("state = %+v", st)
	}
}
