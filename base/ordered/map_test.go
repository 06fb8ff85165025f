package ordered_test

import (
	"testing"

	"github.com/dgx-org/dgx/base/ordered"
)

type entry struct {
	k string
	v int
}

func TestMap(t *testing.T) {
	tests := []struct {
		entries []entry
		delete  []string
		want    []entry
	}{
		{
			entries: []entry{
				{k: "a", v: 1},
				{k: "b", v: 2},
				{k: "c", v: 3},
			},
			want: []entry{
				{k: "a", v: 1},
				{k: "b", v: 2},
				{k: "c", v: 3},
			},
		},
		{
			entries: []entry{
				{k: "a", v: 1},
				{k: "b", v: 2},
				{k: "a", v: 3},
			},
			want: []entry{
				{k: "a", v: 3},
				{k: "b", v: 2},
			},
		},
		{
			entries: []entry{
				{k: "a", v: 1},
				{k: "b", v: 2},
				{k: "c", v: 3},
			},
			delete: []string{"b", "not-there"},
			want: []entry{
				{k: "a", v: 1},
				{k: "c", v: 3},
			},
		},
	}
	for ti, test := range tests {
		m := ordered.NewMap[string, int]()
		for _, entry := range test.entries {
			m.Store(entry.k, entry.v)
		}
		for _, k := range test.delete {
			m.Delete(k)
		}
		if m.Size() != len(test.want) {
			t.Errorf("test %d: map has %d entries but want %d", ti, m.Size(), len(test.want))
			continue
		}

		i := 0
		for gotK, gotV := range m.Iter() {
			wantK, wantV := test.want[i].k, test.want[i].v
			if gotK != wantK || gotV != wantV {
				t.Errorf("test %d entry %d: got %s->%d but want %s->%d", ti, i, gotK, gotV, wantK, wantV)
			}
			i++
		}

		i = 0
		for gotV := range m.Values() {
			wantK, wantV := test.want[i].k, test.want[i].v
			if gotV != wantV {
				t.Errorf("test %d entry %d: got .->%d but want %s->%d", ti, i, gotV, wantK, wantV)
			}
			i++
		}
	}
}

func TestSet(t *testing.T) {
	s := ordered.NewSet("c", "a", "b", "a")
	if s.Size() != 3 {
		t.Errorf("set has %d elements but want 3", s.Size())
	}
	want := []string{"c", "a", "b"}
	i := 0
	for got := range s.Iter() {
		if got != want[i] {
			t.Errorf("element %d: got %s but want %s", i, got, want[i])
		}
		i++
	}
	s.Remove("a")
	if s.Has("a") {
		t.Errorf("set still has %q after removal", "a")
	}
	if !s.Has("b") {
		t.Errorf("set lost %q", "b")
	}
}
