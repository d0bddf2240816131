// Package visibility decides whether a stop's street address may be shown.
//
// Street-level fields live inside Sealed, whose fields are unexported and
// whose JSON form is redacted. The only way to read them is Gate.View, so a
// read path that skips the gate has nothing to leak.
package visibility

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ariefcatur/go-fresh-orders/internal/orders"
)

type Role string

const (
	RoleBuyer     Role = "buyer"
	RoleSeller    Role = "seller"
	RoleFulfiller Role = "fulfiller"
	RoleAdmin     Role = "admin"
)

type Viewer struct {
	UserID string
	Role   Role
}

type StopKind string

const (
	KindCollection StopKind = "collection"
	KindDelivery   StopKind = "delivery"
)

type Sealed struct {
	street string
	line2  string
	city   string
	state  string
	zip    string
}

func Seal(a orders.Address) Sealed {
	return Sealed{street: a.Street, line2: a.Line2, city: a.City, state: a.State, zip: a.Zip}
}

// Zip and Region are never secret.
func (s Sealed) Zip() string    { return s.zip }
func (s Sealed) Region() string { return s.state }

func (s Sealed) IsZero() bool { return s == Sealed{} }

// MarshalJSON only ever emits the redacted form.
func (s Sealed) MarshalJSON() ([]byte, error) {
	return json.Marshal(redact(s))
}

func (s Sealed) String() string { return "[sealed address " + s.zip + "]" }

// stored is the at-rest form; only the database driver sees it.
type stored struct {
	Street string `json:"street"`
	Line2  string `json:"line2,omitempty"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

// Value implements driver.Valuer so a Sealed can be written to a jsonb column.
func (s Sealed) Value() (driver.Value, error) {
	b, err := json.Marshal(stored{s.street, s.line2, s.city, s.state, s.zip})
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *Sealed) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*s = Sealed{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("visibility: cannot scan %T into Sealed", src)
	}
	var st stored
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	*s = Sealed{street: st.Street, line2: st.Line2, city: st.City, state: st.State, zip: st.Zip}
	return nil
}

// AddressView is what leaves the gate.
type AddressView struct {
	Street   string `json:"street,omitempty"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city,omitempty"`
	Region   string `json:"region"`
	Zip      string `json:"zip"`
	Redacted bool   `json:"redacted"`
}

func redact(s Sealed) AddressView {
	return AddressView{Region: s.state, Zip: s.zip, Redacted: true}
}

func reveal(s Sealed) AddressView {
	return AddressView{Street: s.street, Line2: s.line2, City: s.city, Region: s.state, Zip: s.zip}
}

// Subject is the stop metadata the decision depends on.
type Subject struct {
	Kind             StopKind
	AddressVisibleAt *time.Time
}

type Gate struct{}

// Allowed reports whether v may see the full address of a stop.
func (Gate) Allowed(v Viewer, s Subject) bool {
	switch {
	case v.Role == RoleAdmin:
		return true
	case s.Kind == KindCollection:
		return true
	case s.Kind == KindDelivery && s.AddressVisibleAt != nil:
		return true
	}
	return false
}

func (g Gate) View(v Viewer, s Subject, addr Sealed) AddressView {
	if g.Allowed(v, s) {
		return reveal(addr)
	}
	return redact(addr)
}
