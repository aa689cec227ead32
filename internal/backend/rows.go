package backend

import (
	"fmt"
	"time"
)

// Member roles as stored by the hosted schema.
const (
	RoleOwner     = "金主"
	RoleLineLead  = "线长"
	RoleShiftLead = "班长"
)

// Finance entry types as stored by the hosted schema.
const (
	FinanceIncome  = "收入"
	FinanceExpense = "支出"
)

// WireFinanceType maps an entry type ("income" or "expense") to the stored value.
func WireFinanceType(entry string) (string, error) {
	switch entry {
	case "income":
		return FinanceIncome, nil
	case "expense":
		return FinanceExpense, nil
	default:
		return "", fmt.Errorf("unknown finance entry type %q", entry)
	}
}

// EntryType maps a stored finance type back to "income" or "expense". Unknown
// values map to "".
func EntryType(wire string) string {
	switch wire {
	case FinanceIncome:
		return "income"
	case FinanceExpense:
		return "expense"
	default:
		return ""
	}
}

// ProductionRecord is a row of the production records table.
type ProductionRecord struct {
	ID        string    `json:"id"`
	LineID    string    `json:"line_id"`
	UserID    string    `json:"user_id,omitempty"`
	Date      string    `json:"date"`
	Quantity  int       `json:"quantity"`
	Operator  string    `json:"operator,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	PhotoPath string    `json:"photo_path,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Line is a row of the production lines table.
type Line struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	OwnerID    string  `json:"owner_id,omitempty"`
	Status     string  `json:"status,omitempty"`
	Plan       string  `json:"plan,omitempty"`
	Price      float64 `json:"price,omitempty"`
	ExpireDate string  `json:"expire_date,omitempty"`
	IsActive   bool    `json:"is_active"`
}

// Member is a row of the line membership table.
type Member struct {
	ID     string `json:"id,omitempty"`
	LineID string `json:"line_id"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// User is the public profile row used to resolve usernames.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
}

// ValidRole reports whether role is one of the stored member roles.
func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleLineLead, RoleShiftLead:
		return true
	}
	return false
}

// Defaults applied to newly created lines.
const (
	LinePlanMonthly  = "月付"
	LineMonthlyPrice = 100.00
	LineTermDays     = 30
	MaxEnabledLines  = 30
)

// FinancialRecord is a row of the finance table.
type FinancialRecord struct {
	ID          string    `json:"id"`
	LineID      string    `json:"line_id"`
	UserID      string    `json:"user_id,omitempty"`
	Date        string    `json:"date"`
	Amount      float64   `json:"amount"`
	Type        string    `json:"type"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// Line status values as stored by the hosted schema.
const (
	LineEnabled  = "启用"
	LineDisabled = "停用"
)
