package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// Kind distinguishes original policy transactions from the reconciliation
// audit entries recorded against them. It is set once at creation.
type Kind int

const (
	KindOriginal Kind = iota
	KindStatement
	KindVoid
	KindAdjustment
)

// String returns the stored name of the kind
func (k Kind) String() string {
	switch k {
	case KindOriginal:
		return "original"
	case KindStatement:
		return "statement"
	case KindVoid:
		return "void"
	case KindAdjustment:
		return "adjustment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Marker returns the segment used in reconciliation identifiers.
// Originals have no marker.
func (k Kind) Marker() string {
	switch k {
	case KindStatement:
		return "STMT"
	case KindVoid:
		return "VOID"
	case KindAdjustment:
		return "ADJ"
	default:
		return ""
	}
}

// IsReconciliation reports whether the kind is an audit entry
func (k Kind) IsReconciliation() bool {
	return k == KindStatement || k == KindVoid || k == KindAdjustment
}

// IsValid checks the kind is one of the known values
func (k Kind) IsValid() bool {
	return k >= KindOriginal && k <= KindAdjustment
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.IsValid() {
		return nil, fmt.Errorf("invalid kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a stored kind name
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "original":
		return KindOriginal, nil
	case "statement":
		return KindStatement, nil
	case "void":
		return KindVoid, nil
	case "adjustment":
		return KindAdjustment, nil
	default:
		return 0, fmt.Errorf("invalid transaction kind '%s'", s)
	}
}

// TransactionType is the business transaction code of a policy row
type TransactionType string

const (
	TypeNew            TransactionType = "NEW"
	TypeNewBusiness    TransactionType = "NBS"
	TypeStandalone     TransactionType = "STL"
	TypeBrokerOfRecord TransactionType = "BoR"
	TypeRenewal        TransactionType = "RWL"
	TypeRewrite        TransactionType = "REWRITE"
	TypeEndorsement    TransactionType = "END"
	TypePolicyChange   TransactionType = "PCH"
	TypeCancel         TransactionType = "CAN"
	TypeCancelRewrite  TransactionType = "XCL"

	// Carried by audit entries only
	TypeStatement  TransactionType = "STMT"
	TypeVoid       TransactionType = "VOID"
	TypeAdjustment TransactionType = "ADJ"
)

var policyTypes = map[string]TransactionType{
	"NEW": TypeNew, "NBS": TypeNewBusiness, "STL": TypeStandalone, "BOR": TypeBrokerOfRecord,
	"RWL": TypeRenewal, "REWRITE": TypeRewrite, "END": TypeEndorsement, "PCH": TypePolicyChange,
	"CAN": TypeCancel, "XCL": TypeCancelRewrite,
}

// ParseTransactionType parses a policy transaction code, case-insensitively.
// Unknown codes are kept verbatim so imports never lose data.
func ParseTransactionType(s string) TransactionType {
	trimmed := strings.TrimSpace(s)
	if t, ok := policyTypes[strings.ToUpper(trimmed)]; ok {
		return t
	}
	return TransactionType(trimmed)
}

// IsKnown reports whether the type is part of the policy vocabulary
func (t TransactionType) IsKnown() bool {
	_, ok := policyTypes[strings.ToUpper(string(t))]
	return ok
}

// ReconciliationStatus tracks whether a row has been covered by a statement
type ReconciliationStatus string

const (
	StatusUnreconciled ReconciliationStatus = "unreconciled"
	StatusReconciled   ReconciliationStatus = "reconciled"
	StatusVoid         ReconciliationStatus = "void"
	StatusAdjusted     ReconciliationStatus = "adjusted"
)

// Transaction is one row of the commission ledger: an original policy
// transaction or a reconciliation audit entry.
type Transaction struct {
	ID                        string               `json:"transaction_id" validate:"required,max=64"`
	Kind                      Kind                 `json:"kind"`
	Customer                  string               `json:"customer" validate:"required_without=PolicyNumber,max=256"`
	PolicyNumber              string               `json:"policy_number" validate:"required_without=Customer,max=128"`
	PolicyType                string               `json:"policy_type,omitempty"`
	CarrierName               string               `json:"carrier_name,omitempty"`
	EffectiveDate             time.Time            `json:"effective_date"`
	OriginationDate           time.Time            `json:"policy_origination_date,omitempty"`
	TransactionType           TransactionType      `json:"transaction_type,omitempty"`
	PremiumSold               decimal.Decimal      `json:"premium_sold"`
	CommissionPercent         decimal.Decimal      `json:"policy_gross_comm_pct"`
	AgencyEstimatedCommission decimal.Decimal      `json:"agency_estimated_comm"`
	AgentEstimatedCommission  decimal.Decimal      `json:"agent_estimated_comm"`
	AgentPaidAmount           decimal.Decimal      `json:"agent_paid_amount"`
	AgencyCommissionReceived  decimal.Decimal      `json:"agency_comm_received"`
	StatementDate             time.Time            `json:"statement_date,omitempty"`
	BatchID                   string               `json:"reconciliation_id,omitempty"`
	VoidsBatchID              string               `json:"voids_reconciliation_id,omitempty"`
	ReferenceID               string               `json:"reference_transaction_id,omitempty"`
	ReconciliationStatus      ReconciliationStatus `json:"reconciliation_status"`
	ReconciledAt              *time.Time           `json:"reconciled_at,omitempty"`
	Notes                     string               `json:"notes,omitempty"`
	CreatedAt                 time.Time            `json:"created_at"`
}

// IsOriginal reports whether the row is a policy transaction rather than an audit entry
func (t *Transaction) IsOriginal() bool {
	return t.Kind == KindOriginal
}

// Validate checks structural rules that hold for every stored row
func (t *Transaction) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("transaction %q: %w", t.ID, err)
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("transaction %q: invalid kind %d", t.ID, int(t.Kind))
	}
	if t.Kind.IsReconciliation() && t.ReferenceID == "" {
		return fmt.Errorf("transaction %q: %s entry requires a reference transaction", t.ID, t.Kind)
	}
	return nil
}

// String returns a short representation for logs
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Kind: %s, Customer: %s, Policy: %s, Effective: %s}",
		t.ID, t.Kind, t.Customer, t.PolicyNumber, FormatDate(t.EffectiveDate))
}

// Clone returns a copy that shares no pointers with t
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.ReconciledAt != nil {
		at := *t.ReconciledAt
		c.ReconciledAt = &at
	}
	return &c
}

// NewOriginal creates a policy transaction with the unreconciled status
func NewOriginal(id, customer, policyNumber string, effective time.Time, txType TransactionType) *Transaction {
	return &Transaction{
		ID:                   id,
		Kind:                 KindOriginal,
		Customer:             strings.TrimSpace(customer),
		PolicyNumber:         strings.TrimSpace(policyNumber),
		EffectiveDate:        DateOnly(effective),
		TransactionType:      txType,
		ReconciliationStatus: StatusUnreconciled,
	}
}
