package delivery

import (
	"sort"
	"strings"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

// Waypoint is one delivery destination handed to a Sequencer.
type Waypoint struct {
	OrderID string
	BuyerID string
	Address orders.Address
}

// Sequencer orders the delivery stops of a batch starting from the
// collection point. Route optimisation lives behind this interface.
type Sequencer interface {
	Sequence(origin orders.Address, points []Waypoint) []Waypoint
}

// ZipStreetSequencer sorts by zip, then street, then order id.
type ZipStreetSequencer struct{}

func (ZipStreetSequencer) Sequence(_ orders.Address, points []Waypoint) []Waypoint {
	out := append([]Waypoint(nil), points...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Address.Zip != b.Address.Zip {
			return a.Address.Zip < b.Address.Zip
		}
		if a.Address.Street != b.Address.Street {
			return a.Address.Street < b.Address.Street
		}
		return a.OrderID < b.OrderID
	})
	return out
}

// GeoKey is the grouping key of an address: its zip3.
func GeoKey(a orders.Address) string {
	z := strings.TrimSpace(a.Zip)
	if len(z) > 3 {
		z = z[:3]
	}
	return z
}

type geoGroup struct {
	key    string
	points []Waypoint
}

// planBatches splits the waypoints of one (market, delivery date) into
// batch-sized runs. Zip3 groups below Min are merged with their neighbours
// in key order; merged groups are cut into evenly sized chunks no larger
// than Max and as close to Target as possible.
func planBatches(points []Waypoint, l Limits) []geoGroup {
	l = l.normalize()
	byKey := map[string][]Waypoint{}
	for _, p := range points {
		k := GeoKey(p.Address)
		byKey[k] = append(byKey[k], p)
	}
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var merged []geoGroup
	var cur geoGroup
	for _, k := range keys {
		byKey[k] = ZipStreetSequencer{}.Sequence(orders.Address{}, byKey[k])
		if len(cur.points) == 0 {
			cur.key = k
		} else {
			cur.key = strings.SplitN(cur.key, "-", 2)[0] + "-" + k
		}
		cur.points = append(cur.points, byKey[k]...)
		if len(cur.points) >= l.Min {
			merged = append(merged, cur)
			cur = geoGroup{}
		}
	}
	if len(cur.points) > 0 {
		if n := len(merged); n > 0 && len(merged[n-1].points)+len(cur.points) <= l.Max {
			last := &merged[n-1]
			last.key = strings.SplitN(last.key, "-", 2)[0] + "-" + lastKey(cur.key)
			last.points = append(last.points, cur.points...)
		} else {
			merged = append(merged, cur)
		}
	}

	var out []geoGroup
	for _, g := range merged {
		start := 0
		for _, size := range chunkSizes(len(g.points), l) {
			out = append(out, geoGroup{key: g.key, points: g.points[start : start+size]})
			start += size
		}
	}
	return out
}

func lastKey(k string) string {
	if i := strings.LastIndex(k, "-"); i >= 0 {
		return k[i+1:]
	}
	return k
}

// chunkSizes splits n into k nearly equal parts with k chosen so no part
// exceeds Max and the average is nearest Target.
func chunkSizes(n int, l Limits) []int {
	if n == 0 {
		return nil
	}
	k := (n + l.Max - 1) / l.Max
	if t := (n + l.Target/2) / l.Target; t > k {
		k = t
	}
	for k > 1 && n/k < l.Min && (n+k-2)/(k-1) <= l.Max {
		k--
	}
	if k < 1 {
		k = 1
	}
	sizes := make([]int, k)
	for i := range sizes {
		sizes[i] = n / k
		if i < n%k {
			sizes[i]++
		}
	}
	return sizes
}
