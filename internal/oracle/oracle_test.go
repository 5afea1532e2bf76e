package oracle

import (
	"sync"
	"testing"

	"replay-engine/internal/entity"
)

func TestReveal(t *testing.T) {
	var got []Notification
	o := New(WithListeners(func(n Notification) { got = append(got, n) }))

	tests := []struct {
		name    string
		id      int
		card    string
		tags    entity.TagMap
		changed bool
		want    string
	}{
		{"plain", 4, "EX1_001", entity.TagMap{}, true, "EX1_001"},
		{"never overwrites", 4, "EX1_002", entity.TagMap{}, false, "EX1_001"},
		{"missing card", 5, "", entity.TagMap{}, false, ""},
		{"invalid id", 0, "EX1_001", entity.TagMap{}, false, ""},
		{"shifting minion", 6, "CS2_231", entity.NewTagMap(map[int]int{entity.TagShifting: 1}), true, ShiftingMinionCardID},
		{"shifting minion tag", 7, "CS2_231", entity.NewTagMap(map[int]int{entity.TagShiftingMinion: 1}), true, ShiftingMinionCardID},
		{"shifting weapon", 8, "CS2_106", entity.NewTagMap(map[int]int{entity.TagShiftingWeapon: 1}), true, ShiftingWeaponCardID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if changed := o.Reveal(tt.id, tt.card, tt.tags); changed != tt.changed {
				t.Errorf("Expected changed=%v", tt.changed)
			}
			if c, _ := o.Card(tt.id); c != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, c)
			}
		})
	}

	if len(got) != 4 {
		t.Fatalf("Expected 4 notifications, got %d", len(got))
	}
	last := got[len(got)-1]
	if last.Kind != KindCards || len(last.Cards) != 4 {
		t.Errorf("Unexpected notification %+v", last)
	}
	// listeners get copies
	last.Cards[99] = "X"
	if _, ok := o.Card(99); ok {
		t.Error("Notification maps must not alias the oracle's state")
	}
}

func TestRevealAll(t *testing.T) {
	o := New()
	o.Reveal(4, "EX1_001", entity.TagMap{})
	if n := o.RevealAll(map[int]string{4: "X", 5: "Y", 6: ""}); n != 1 {
		t.Errorf("Expected 1 new card, got %d", n)
	}
	cards := o.Cards()
	if cards[4] != "EX1_001" || cards[5] != "Y" || len(cards) != 2 {
		t.Errorf("Unexpected cards %v", cards)
	}
}

func TestMulligans(t *testing.T) {
	var last Notification
	o := New(WithListeners(func(n Notification) { last = n }))

	o.OfferMulligan([]int{10, 11, 12})
	o.ResolveMulligan([]int{11, 40})

	m := o.Mulligans()
	if !m[10] || m[11] || !m[12] {
		t.Errorf("Unexpected mulligans %v", m)
	}
	if _, ok := m[40]; ok {
		t.Error("Entities never offered should not be recorded")
	}
	if last.Kind != KindMulligans || len(last.Mulligans) != 3 {
		t.Errorf("Unexpected notification %+v", last)
	}
}

func TestBuild(t *testing.T) {
	o := New()
	if _, ok := o.Build(); ok {
		t.Error("Expected no build")
	}
	o.SetBuild(13619)
	if b, ok := o.Build(); !ok || b != 13619 {
		t.Errorf("Expected 13619, got %d", b)
	}
	o.SetBuild(0)
	if _, ok := o.Build(); ok {
		t.Error("Zero build means unknown")
	}
}

func TestOverlappingUpdatesNotifyInOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		armed = true
		last  int
	)
	entered := make(chan struct{})
	release := make(chan struct{})
	o := New(WithListeners(func(n Notification) {
		mu.Lock()
		block := armed
		armed = false
		mu.Unlock()
		if block {
			close(entered)
			<-release
		}
		mu.Lock()
		last = n.Build
		mu.Unlock()
	}))

	done := make(chan struct{})
	go func() {
		o.SetBuild(100)
		close(done)
	}()
	<-entered
	o.SetBuild(200)
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	if last != 200 {
		t.Errorf("Expected the latest build to be delivered last, got %d", last)
	}
}
