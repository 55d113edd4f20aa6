package interview

import (
	"math/rand/v2"
	"testing"
	"time"
)

func TestQuestion_Classification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		q      Question
		choice bool
		spoken bool
	}{
		{Question{Type: TypeBehavioral}, false, true},
		{Question{Type: TypeCommunication}, false, true},
		{Question{Type: TypeCommunication, Options: []string{"a"}}, false, true},
		{Question{Type: TypeReasoning, Options: []string{"a", "b"}}, true, false},
		{Question{Type: "security", Options: []string{"a"}}, true, false},
		{Question{Type: TypeSubjective}, false, false},
	}
	for _, tt := range tests {
		if got := tt.q.IsChoice(); got != tt.choice {
			t.Errorf("%s options=%v IsChoice = %v", tt.q.Type, tt.q.Options, got)
		}
		if got := tt.q.IsSpoken(); got != tt.spoken {
			t.Errorf("%s IsSpoken = %v", tt.q.Type, got)
		}
	}
	if d := (Question{}).Duration(); d != 300*time.Second {
		t.Errorf("default duration = %v", d)
	}
	if d := (Question{ExpectedDuration: 45}).Duration(); d != 45*time.Second {
		t.Errorf("duration = %v", d)
	}
}

func TestOrder_PartitionOrder(t *testing.T) {
	t.Parallel()
	var in []Question
	types := []string{"security", TypeSubjective, TypeArithmetic, "design", TypeReasoning, TypeCommunication, TypeBehavioral}
	for round := range 4 {
		for _, typ := range types {
			in = append(in, Question{ID: typ + string(rune('0'+round)), Type: typ})
		}
	}
	want := []string{TypeBehavioral, TypeCommunication, TypeReasoning, TypeArithmetic, TypeSubjective, "security", "design"}

	orders := make(map[string]bool)
	for seed := range uint64(20) {
		out := Order(in, rand.New(rand.NewPCG(seed, seed)))
		if len(out) != len(in) {
			t.Fatalf("len = %d, want %d", len(out), len(in))
		}
		rank := 0
		for _, q := range out {
			for want[rank] != q.Type {
				rank++
				if rank == len(want) {
					t.Fatalf("seed %d: partition order broken: %v", seed, ids(out))
				}
			}
		}
		orders[joinIDs(out)] = true
	}
	if len(orders) < 2 {
		t.Fatal("intra-partition order never varied")
	}
}

func TestOrder_DoesNotModifyInput(t *testing.T) {
	t.Parallel()
	in := []Question{{ID: "a", Type: TypeSubjective}, {ID: "b", Type: TypeBehavioral}, {ID: "c", Type: TypeSubjective}}
	Order(in, rand.New(rand.NewPCG(1, 2)))
	if in[0].ID != "a" || in[1].ID != "b" || in[2].ID != "c" {
		t.Fatalf("input reordered: %v", ids(in))
	}
	if got := Order(nil, nil); len(got) != 0 {
		t.Fatalf("Order(nil) = %v", got)
	}
}

func ids(qs []Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}

func joinIDs(qs []Question) string {
	var s string
	for _, q := range qs {
		s += q.ID + ","
	}
	return s
}
