package visibility

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

var home = orders.Address{Street: "1 Main St", Line2: "Apt 2", City: "Springfield", State: "IL", Zip: "62701"}

func TestGateAllowed(t *testing.T) {
	picked := time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	buyer := Viewer{UserID: "b1", Role: RoleBuyer}
	fulfiller := Viewer{UserID: "f1", Role: RoleFulfiller}
	admin := Viewer{UserID: "a1", Role: RoleAdmin}

	tests := []struct {
		name    string
		viewer  Viewer
		subject Subject
		want    bool
	}{
		{"admin sees unscanned stop", admin, Subject{Kind: KindDelivery}, true},
		{"fulfiller before pickup", fulfiller, Subject{Kind: KindDelivery}, false},
		{"fulfiller after pickup", fulfiller, Subject{Kind: KindDelivery, AddressVisibleAt: &picked}, true},
		{"buyer before pickup", buyer, Subject{Kind: KindDelivery}, false},
		{"collection point is public", fulfiller, Subject{Kind: KindCollection}, true},
		{"anonymous", Viewer{}, Subject{Kind: KindDelivery}, false},
		{"unknown kind", fulfiller, Subject{Kind: "depot", AddressVisibleAt: &picked}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := (Gate{}).Allowed(tt.viewer, tt.subject); got != tt.want {
				t.Fatalf("allowed=%v want %v", got, tt.want)
			}
		})
	}
}

func TestGateView(t *testing.T) {
	s := Seal(home)
	v := Gate{}.View(Viewer{Role: RoleFulfiller}, Subject{Kind: KindDelivery}, s)
	if !v.Redacted || v.Street != "" || v.City != "" || v.Line2 != "" || v.Zip != "62701" || v.Region != "IL" {
		t.Fatalf("redacted view=%+v", v)
	}
	v = Gate{}.View(Viewer{Role: RoleAdmin}, Subject{Kind: KindDelivery}, s)
	if v.Redacted || v.Street != "1 Main St" || v.Line2 != "Apt 2" {
		t.Fatalf("revealed view=%+v", v)
	}
}

func TestSealedNeverLeaks(t *testing.T) {
	s := Seal(home)
	b, err := json.Marshal(struct{ Address Sealed }{s})
	if err != nil {
		t.Fatal(err)
	}
	for _, out := range []string{string(b), fmt.Sprint(s), fmt.Sprintf("%+v", s)} {
		if strings.Contains(out, "Main") || strings.Contains(out, "Springfield") {
			t.Fatalf("sealed address leaked: %s", out)
		}
	}
	if !strings.Contains(string(b), `"redacted":true`) {
		t.Fatalf("json=%s", b)
	}
}

func TestSealedStorageRoundTrip(t *testing.T) {
	s := Seal(home)
	val, err := s.Value()
	if err != nil {
		t.Fatal(err)
	}
	var got Sealed
	if err := got.Scan([]byte(val.(string))); err != nil {
		t.Fatal(err)
	}
	if got != s {
		t.Fatalf("round trip changed the address")
	}
	if err := got.Scan(nil); err != nil || !got.IsZero() {
		t.Fatalf("scan nil: %v zero=%v", err, got.IsZero())
	}
	if err := got.Scan(42); err == nil {
		t.Fatal("scanned an int")
	}
}
