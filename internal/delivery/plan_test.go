package delivery

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

func TestChunkSizes(t *testing.T) {
	l := DefaultLimits()
	tests := []struct {
		n    int
		want []int
	}{
		{0, nil},
		{3, []int{3}},
		{12, []int{12}},
		{20, []int{10, 10}},
		{25, []int{13, 12}},
		{41, []int{14, 14, 13}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.n), func(t *testing.T) {
			got := chunkSizes(tt.n, l)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("chunkSizes(%d)=%v want %v", tt.n, got, tt.want)
			}
			sum := 0
			for _, s := range got {
				if s > l.Max {
					t.Fatalf("chunk %d over max", s)
				}
				sum += s
			}
			if sum != tt.n {
				t.Fatalf("chunks sum to %d", sum)
			}
		})
	}
}

func points(zips ...string) []Waypoint {
	out := make([]Waypoint, 0, len(zips))
	for i, z := range zips {
		out = append(out, Waypoint{
			OrderID: fmt.Sprintf("o%02d", i),
			Address: orders.Address{Street: fmt.Sprintf("%d Main St", i), City: "c", State: "s", Zip: z},
		})
	}
	return out
}

func TestPlanBatches(t *testing.T) {
	l := Limits{Min: 2, Target: 3, Max: 4}
	tests := []struct {
		name     string
		zips     []string
		wantKeys []string
		wantLens []int
	}{
		{"small group merges forward", []string{"10001", "10101", "20001", "20002", "20003"}, []string{"100-101", "200"}, []int{2, 3}},
		{"trailing group joins the last batch", []string{"10001", "10002", "20001"}, []string{"100-200"}, []int{3}},
		{"large group is split", []string{"30001", "30002", "30003", "30004", "30005", "30006", "30007"}, []string{"300", "300"}, []int{4, 3}},
		{"single stop", []string{"40001"}, []string{"400"}, []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := planBatches(points(tt.zips...), l)
			var keys []string
			var lens []int
			seen := 0
			for _, g := range groups {
				keys = append(keys, g.key)
				lens = append(lens, len(g.points))
				seen += len(g.points)
			}
			if !reflect.DeepEqual(keys, tt.wantKeys) || !reflect.DeepEqual(lens, tt.wantLens) {
				t.Fatalf("keys=%v lens=%v want %v %v", keys, lens, tt.wantKeys, tt.wantLens)
			}
			if seen != len(tt.zips) {
				t.Fatalf("planned %d of %d stops", seen, len(tt.zips))
			}
		})
	}
}

func TestGeoKey(t *testing.T) {
	for in, want := range map[string]string{
		"62701":      "627",
		"62701-1234": "627",
		" 62 ":       "62",
		"":           "",
	} {
		if got := GeoKey(orders.Address{Zip: in}); got != want {
			t.Fatalf("GeoKey(%q)=%q want %q", in, got, want)
		}
	}
}

func TestZipStreetSequencer(t *testing.T) {
	in := []Waypoint{
		{OrderID: "c", Address: orders.Address{Street: "1 A St", Zip: "20000"}},
		{OrderID: "b", Address: orders.Address{Street: "2 B St", Zip: "10000"}},
		{OrderID: "a", Address: orders.Address{Street: "2 B St", Zip: "10000"}},
		{OrderID: "d", Address: orders.Address{Street: "1 A St", Zip: "10000"}},
	}
	var got []string
	for _, p := range (ZipStreetSequencer{}).Sequence(orders.Address{}, in) {
		got = append(got, p.OrderID)
	}
	if want := []string{"d", "a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order=%v want %v", got, want)
	}
}

func TestTransitions(t *testing.T) {
	if !CanTransitionBatch(BatchPending, BatchAssigned) || CanTransitionBatch(BatchCompleted, BatchInProgress) {
		t.Fatal("batch transitions")
	}
	if CanTransitionBatch(BatchPending, BatchInProgress) {
		t.Fatal("batch may not skip assignment")
	}
	if !CanTransitionStop(StopPending, StopDelivered) || CanTransitionStop(StopDelivered, StopPending) {
		t.Fatal("stop transitions")
	}
}
