// Package domain holds the data model shared by the checkout engine: catalog
// entries and their protocol descriptors, cart lines, holds, reservation
// outcomes and the persisted purchase/reservation aggregates.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProductKind identifies which family of travel product a provider sells.
type ProductKind string

const (
	KindFlight     ProductKind = "flight"
	KindHotel      ProductKind = "hotel"
	KindCar        ProductKind = "car"
	KindRestaurant ProductKind = "restaurant"
	KindPackage    ProductKind = "package"
)

// Kinds lists every supported product kind in a stable order.
var Kinds = []ProductKind{KindFlight, KindHotel, KindCar, KindRestaurant, KindPackage}

// ParseProductKind accepts the canonical lower-case names as well as the
// capitalised names used by the catalog ("Hotel", "Flight", ...).
func ParseProductKind(s string) (ProductKind, error) {
	k := ProductKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown product kind %q", s)
}

// ProtocolFamily is the wire protocol a descriptor speaks.
type ProtocolFamily string

const (
	FamilyLegacyRPC    ProtocolFamily = "legacy-rpc"
	FamilyResourceHTTP ProtocolFamily = "resource-http"
)

// ParseProtocolFamily validates a family name read from configuration or storage.
func ParseProtocolFamily(s string) (ProtocolFamily, error) {
	switch ProtocolFamily(strings.ToLower(strings.TrimSpace(s))) {
	case FamilyLegacyRPC:
		return FamilyLegacyRPC, nil
	case FamilyResourceHTTP:
		return FamilyResourceHTTP, nil
	}
	return "", fmt.Errorf("unknown protocol family %q", s)
}

// Operation names a connector operation. The same names key the endpoint
// paths of a ProtocolDescriptor.
type Operation string

const (
	OpSearch            Operation = "search"
	OpCheckAvailability Operation = "check_availability"
	OpCreateHold        Operation = "create_hold"
	OpRegisterCustomer  Operation = "register_customer"
	OpConfirm           Operation = "confirm_reservation"
	OpGenerateInvoice   Operation = "generate_invoice"
	OpFetchReservation  Operation = "fetch_reservation"
	OpCancelReservation Operation = "cancel_reservation"
	OpReleaseHold       Operation = "release_hold"
)

// Operations lists the eight mandatory connector operations. OpReleaseHold is
// optional and only exists when a provider configures it.
var Operations = []Operation{
	OpSearch, OpCheckAvailability, OpCreateHold, OpRegisterCustomer,
	OpConfirm, OpGenerateInvoice, OpFetchReservation, OpCancelReservation,
}

// ReadOnly reports whether the operation has no provider-side effect and can
// therefore be retried safely.
func (o Operation) ReadOnly() bool {
	switch o {
	case OpSearch, OpCheckAvailability, OpFetchReservation:
		return true
	}
	return false
}

// ServiceCatalogEntry is a provider service as registered in the catalog.
type ServiceCatalogEntry struct {
	ID                int64       `json:"id" db:"id"`
	Kind              ProductKind `json:"kind" db:"kind"`
	Name              string      `json:"name" db:"name"`
	SettlementAccount string      `json:"settlement_account" db:"settlement_account"`
	Active            bool        `json:"active" db:"active"`
	// PreferLegacy forces the legacy-RPC family for every call to this service.
	PreferLegacy bool `json:"prefer_legacy" db:"prefer_legacy"`
}

// ProtocolDescriptor describes how to reach one service over one protocol family.
type ProtocolDescriptor struct {
	ServiceID     int64                `json:"service_id"`
	Family        ProtocolFamily       `json:"family"`
	BaseURL       string               `json:"base_url"`
	Paths         map[Operation]string `json:"paths"`
	CredentialRef string               `json:"credential_ref,omitempty"`

	// Credential is filled by the resolver from the secret store; never persisted.
	Credential string `json:"-"`
}

// Path returns the configured endpoint path for op and whether one exists.
func (d ProtocolDescriptor) Path(op Operation) (string, bool) {
	if d.Paths == nil {
		return "", false
	}
	p, ok := d.Paths[op]
	return p, ok && strings.TrimSpace(p) != ""
}

// DateRange is an inclusive check-in/check-out (or pick-up/drop-off) window.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Valid reports whether the range is non-empty and ordered.
func (r DateRange) Valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && !r.To.Before(r.From)
}

// CartLine is one item of the customer's cart, produced by the session layer.
type CartLine struct {
	Kind       ProductKind     `json:"kind"`
	ServiceID  int64           `json:"service_id"`
	ProductID  string          `json:"product_id"`
	Title      string          `json:"title"`
	Dates      *DateRange      `json:"dates,omitempty"`
	PartySize  int             `json:"party_size,omitempty"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	FinalPrice decimal.Decimal `json:"final_price"`
	Quantity   int             `json:"quantity"`
}

// Amount is the chargeable amount of the line: FinalPrice × Quantity.
func (l CartLine) Amount() decimal.Decimal {
	return l.FinalPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2)
}

// BillingInfo carries the customer identity used for provider registration and invoices.
type BillingInfo struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Email    string `json:"email"`
	Address  string `json:"address,omitempty"`
	TaxID    string `json:"tax_id,omitempty"`
}

// Hold is an ephemeral provider-side reservation-in-progress.
type Hold struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
	LineIndex int       `json:"line_index"`
}

// LineState is the position a cart line reached in its reservation pipeline.
type LineState string

const (
	StateInitiated          LineState = "Initiated"
	StateHoldAcquired       LineState = "HoldAcquired"
	StateCustomerRegistered LineState = "CustomerRegistered"
	StateReserved           LineState = "Reserved"
	StateInvoiced           LineState = "Invoiced"
	StateCompleted          LineState = "Completed"
	StateFailed             LineState = "Failed"
)

// ReservationOutcome is the per-line result of a checkout. Exactly one exists per cart line.
type ReservationOutcome struct {
	LineIndex        int             `json:"line_index"`
	Kind             ProductKind     `json:"kind"`
	ServiceID        int64           `json:"service_id"`
	Title            string          `json:"title"`
	Success          bool            `json:"success"`
	ConfirmationCode string          `json:"confirmation_code,omitempty"`
	InvoiceURL       string          `json:"invoice_url,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	FailureCode      string          `json:"failure_code,omitempty"`
	Warning          string          `json:"warning,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	State            LineState       `json:"state"`
}

// PurchaseRecord is the durable aggregate of a paid checkout.
type PurchaseRecord struct {
	ID         string               `json:"id"`
	CustomerID int64                `json:"customer_id"`
	Total      decimal.Decimal      `json:"total"`
	CreatedAt  time.Time            `json:"created_at"`
	Outcomes   []ReservationOutcome `json:"outcomes"`
}

// Reservation is a persisted confirmed provider reservation.
type Reservation struct {
	ID               int64               `json:"id" db:"id"`
	PurchaseID       string              `json:"purchase_id" db:"purchase_id"`
	CustomerID       int64               `json:"customer_id" db:"customer_id"`
	ServiceID        int64               `json:"service_id" db:"service_id"`
	Kind             ProductKind         `json:"kind" db:"kind"`
	ConfirmationCode string              `json:"confirmation_code" db:"confirmation_code"`
	Title            string              `json:"title" db:"title"`
	Amount           decimal.Decimal     `json:"amount" db:"amount"`
	InvoiceURL       string              `json:"invoice_url" db:"invoice_url"`
	Active           bool                `json:"active" db:"active"`
	RefundAmount     decimal.NullDecimal `json:"refund_amount" db:"refund_amount"`
	CancelledAt      *time.Time          `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// Product is a normalised search hit.
type Product struct {
	ID        string          `json:"id"`
	Kind      ProductKind     `json:"kind"`
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency,omitempty"`
	Available bool            `json:"available"`
}

// ReservationSnapshot is what a provider reports about an existing reservation.
type ReservationSnapshot struct {
	ConfirmationCode string              `json:"confirmation_code"`
	Status           string              `json:"status"`
	RefundAmount     decimal.NullDecimal `json:"refund_amount"`
	Dates            *DateRange          `json:"dates,omitempty"`
	// Attributes keeps provider-specific fields that have no normalised counterpart.
	Attributes *structpb.Struct `json:"-"`
}

// Cancelled reports whether the provider considers the reservation cancelled.
func (s ReservationSnapshot) Cancelled() bool {
	switch strings.ToLower(s.Status) {
	case "cancelled", "canceled", "cancelada", "anulada":
		return true
	}
	return false
}
