package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ariefcatur/go-fresh-orders/internal/apperr"
	"github.com/ariefcatur/go-fresh-orders/internal/inventory"
	"github.com/ariefcatur/go-fresh-orders/internal/memstore"
	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

func newLedger(stock map[string]int) (*inventory.Ledger, *memstore.Store) {
	st := memstore.New()
	for id, qty := range stock {
		st.PutProduct(orders.Product{ID: id, Name: id, UnitPriceCents: 100, AvailableQuantity: qty, Approved: true})
	}
	return inventory.New(st, nil), st
}

func available(t *testing.T, st *memstore.Store, id string) int {
	t.Helper()
	p, err := st.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return p.AvailableQuantity
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	l, st := newLedger(map[string]int{"kale": 5})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		won  int
		lost int
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Reserve(context.Background(), fmt.Sprintf("o%d", i), "kale", 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, apperr.ErrInsufficientInventory):
				lost++
			default:
				t.Errorf("reserve %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if won != 5 || lost != 7 {
		t.Fatalf("won=%d lost=%d want 5/7", won, lost)
	}
	if got := available(t, st, "kale"); got != 0 {
		t.Fatalf("available=%d want 0", got)
	}
}

func TestReserveIsIdempotentPerOrder(t *testing.T) {
	l, st := newLedger(map[string]int{"kale": 5})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r, err := l.Reserve(ctx, "o1", "kale", 2)
		if err != nil {
			t.Fatal(err)
		}
		if r.OldQuantity != 5 || r.NewQuantity != 3 {
			t.Fatalf("reservation=%+v", r)
		}
	}
	if got := available(t, st, "kale"); got != 3 {
		t.Fatalf("available=%d want 3", got)
	}
}

func TestReserveAllRollsBackOnShortage(t *testing.T) {
	l, st := newLedger(map[string]int{"kale": 5, "leeks": 1})
	ctx := context.Background()

	_, err := l.ReserveAll(ctx, "o1", []inventory.ItemQty{
		{ProductID: "kale", Qty: 2},
		{ProductID: "leeks", Qty: 2},
	})
	if !errors.Is(err, apperr.ErrInsufficientInventory) {
		t.Fatalf("err=%v want INSUFFICIENT_INVENTORY", err)
	}
	if got := available(t, st, "kale"); got != 5 {
		t.Fatalf("kale=%d want 5", got)
	}
	if got := available(t, st, "leeks"); got != 1 {
		t.Fatalf("leeks=%d want 1", got)
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	l, st := newLedger(map[string]int{"kale": 5})
	ctx := context.Background()

	if _, err := l.ReserveAll(ctx, "o1", []inventory.ItemQty{{ProductID: "kale", Qty: 4}}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := l.Restore(ctx, "o1"); err != nil {
			t.Fatal(err)
		}
	}
	if got := available(t, st, "kale"); got != 5 {
		t.Fatalf("available=%d want 5", got)
	}
}

func TestReserveRejects(t *testing.T) {
	l, _ := newLedger(map[string]int{"kale": 5})
	tests := []struct {
		name    string
		product string
		qty     int
		want    *apperr.Error
	}{
		{"zero qty", "kale", 0, apperr.ErrValidation},
		{"unknown product", "durian", 1, apperr.ErrProductUnavailable},
		{"more than stock", "kale", 6, apperr.ErrInsufficientInventory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Reserve(context.Background(), "o-"+tt.name, tt.product, tt.qty)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %s", err, tt.want.Code)
			}
		})
	}
}
