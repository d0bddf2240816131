// Package delivery groups locked orders into batches and drives batches and
// stops through their one-directional state machines.
package delivery

import (
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/visibility"
)

type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchAssigned   BatchStatus = "assigned"
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
)

var batchNext = map[BatchStatus]map[BatchStatus]bool{
	BatchPending:    {BatchAssigned: true},
	BatchAssigned:   {BatchInProgress: true},
	BatchInProgress: {BatchCompleted: true},
	BatchCompleted:  {},
}

func CanTransitionBatch(from, to BatchStatus) bool { return batchNext[from][to] }

type StopStatus string

const (
	StopPending    StopStatus = "pending"
	StopInProgress StopStatus = "in_progress"
	StopDelivered  StopStatus = "delivered"
)

var stopNext = map[StopStatus]map[StopStatus]bool{
	StopPending:    {StopInProgress: true, StopDelivered: true},
	StopInProgress: {StopDelivered: true},
	StopDelivered:  {},
}

func CanTransitionStop(from, to StopStatus) bool { return stopNext[from][to] }

type Batch struct {
	ID           string
	MarketID     string
	DeliveryDate time.Time
	GeoKey       string // zip3 of the delivery stops, or a range when groups were merged
	FulfillerID  string
	Status       BatchStatus
	Stops        []Stop // by sequence; the collection stop is sequence 0
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

func (b Batch) OrderIDs() []string {
	out := make([]string, 0, len(b.Stops))
	for _, s := range b.Stops {
		if s.Kind == visibility.KindDelivery {
			out = append(out, s.OrderID)
		}
	}
	return out
}

func (b Batch) deliveryStop(orderID string) (Stop, bool) {
	for _, s := range b.Stops {
		if s.Kind == visibility.KindDelivery && s.OrderID == orderID {
			return s, true
		}
	}
	return Stop{}, false
}

func (b Batch) collectionStop() (Stop, bool) {
	for _, s := range b.Stops {
		if s.Kind == visibility.KindCollection {
			return s, true
		}
	}
	return Stop{}, false
}

type Stop struct {
	ID               string
	BatchID          string
	OrderID          string // empty for the collection stop
	BuyerID          string
	Kind             visibility.StopKind
	Sequence         int
	Status           StopStatus
	Address          visibility.Sealed
	AddressVisibleAt *time.Time
	ArrivedAt        *time.Time
	DeliveredAt      *time.Time
}

func (s Stop) subject() visibility.Subject {
	return visibility.Subject{Kind: s.Kind, AddressVisibleAt: s.AddressVisibleAt}
}

// PickupScan records a box code scanned at the collection point.
type PickupScan struct {
	ID          string
	BatchID     string
	StopID      string
	OrderID     string
	FulfillerID string
	ScannedAt   time.Time
}

// Limits bound the number of delivery stops in a batch.
type Limits struct {
	Min    int
	Target int
	Max    int
}

func DefaultLimits() Limits { return Limits{Min: 5, Target: 12, Max: 20} }

func (l Limits) normalize() Limits {
	if l.Max <= 0 {
		l.Max = DefaultLimits().Max
	}
	if l.Min <= 0 {
		l.Min = 1
	}
	if l.Min > l.Max {
		l.Min = l.Max
	}
	if l.Target < l.Min || l.Target > l.Max {
		l.Target = (l.Min + l.Max) / 2
	}
	return l
}
