package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MutationKind names a queued write other than a production record.
type MutationKind string

const (
	MutationUpdateLine           MutationKind = "update_line"
	MutationCreateFinancialEntry MutationKind = "create_financial_entry"
	MutationDeleteRecord         MutationKind = "delete_record"
	MutationCreateLine           MutationKind = "create_line"
	MutationAddMember            MutationKind = "add_member"
	MutationRemoveMember         MutationKind = "remove_member"
)

// ErrUnknownMutationKind is returned when a stored mutation carries a kind this
// build cannot replay. Such mutations stay queued.
var ErrUnknownMutationKind = errors.New("unknown mutation kind")

// Mutation is a queued write. The set of implementations is closed: every
// kind has a concrete type and callers switch on the type, never on a string.
type Mutation interface {
	Kind() MutationKind
	validate() error
}

// UpdateLine changes the name or status of a production line.
type UpdateLine struct {
	LineID string `json:"line_id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

func (UpdateLine) Kind() MutationKind { return MutationUpdateLine }

func (m UpdateLine) validate() error {
	if strings.TrimSpace(m.LineID) == "" {
		return errors.New("update_line: line_id is required")
	}
	if m.Name == "" && m.Status == "" {
		return errors.New("update_line: nothing to update")
	}
	return nil
}

// Finance entry types.
const (
	EntryIncome  = "income"
	EntryExpense = "expense"
)

// CreateFinancialEntry records income or an expense against a line.
type CreateFinancialEntry struct {
	ID          string  `json:"id"`
	LineID      string  `json:"line_id"`
	UserID      string  `json:"user_id,omitempty"`
	Type        string  `json:"type"`
	Category    string  `json:"category"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Description string  `json:"description,omitempty"`
}

func (CreateFinancialEntry) Kind() MutationKind { return MutationCreateFinancialEntry }

func (m CreateFinancialEntry) validate() error {
	switch {
	case m.ID == "":
		return errors.New("create_financial_entry: id is required")
	case m.LineID == "":
		return errors.New("create_financial_entry: line_id is required")
	case m.Type != EntryIncome && m.Type != EntryExpense:
		return fmt.Errorf("create_financial_entry: type must be %s or %s", EntryIncome, EntryExpense)
	case m.Amount <= 0:
		return errors.New("create_financial_entry: amount must be positive")
	case !datePattern.MatchString(m.Date):
		return fmt.Errorf("create_financial_entry: date %q must use YYYY-MM-DD", m.Date)
	}
	return nil
}

// DeleteRecord removes a production record that already exists remotely.
type DeleteRecord struct {
	RecordID string `json:"record_id"`
	LineID   string `json:"line_id,omitempty"`
}

func (DeleteRecord) Kind() MutationKind { return MutationDeleteRecord }

func (m DeleteRecord) validate() error {
	if strings.TrimSpace(m.RecordID) == "" {
		return errors.New("delete_record: record_id is required")
	}
	return nil
}

// CreateLine inserts a production line. ID is minted locally so a replayed
// insert that already landed is detected as a conflict.
type CreateLine struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	OwnerID    string  `json:"owner_id"`
	Status     string  `json:"status"`
	Plan       string  `json:"plan,omitempty"`
	Price      float64 `json:"price,omitempty"`
	ExpireDate string  `json:"expire_date,omitempty"`
}

func (CreateLine) Kind() MutationKind { return MutationCreateLine }

func (m CreateLine) validate() error {
	switch {
	case m.ID == "":
		return errors.New("create_line: id is required")
	case strings.TrimSpace(m.Name) == "":
		return errors.New("create_line: name is required")
	case m.OwnerID == "":
		return errors.New("create_line: owner_id is required")
	case m.Status == "":
		return errors.New("create_line: status is required")
	case m.ExpireDate != "" && !datePattern.MatchString(m.ExpireDate):
		return fmt.Errorf("create_line: expire_date %q must use YYYY-MM-DD", m.ExpireDate)
	}
	return nil
}

// AddMember grants a user a role on a line. When only Username is known the
// user id is looked up at replay.
type AddMember struct {
	ID       string `json:"id"`
	LineID   string `json:"line_id"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
}

func (AddMember) Kind() MutationKind { return MutationAddMember }

func (m AddMember) validate() error {
	switch {
	case m.ID == "":
		return errors.New("add_member: id is required")
	case strings.TrimSpace(m.LineID) == "":
		return errors.New("add_member: line_id is required")
	case m.UserID == "" && strings.TrimSpace(m.Username) == "":
		return errors.New("add_member: user_id or username is required")
	case m.Role == "":
		return errors.New("add_member: role is required")
	}
	return nil
}

// RemoveMember revokes a user's membership of a line.
type RemoveMember struct {
	LineID string `json:"line_id"`
	UserID string `json:"user_id"`
}

func (RemoveMember) Kind() MutationKind { return MutationRemoveMember }

func (m RemoveMember) validate() error {
	if strings.TrimSpace(m.LineID) == "" || strings.TrimSpace(m.UserID) == "" {
		return errors.New("remove_member: line_id and user_id are required")
	}
	return nil
}

// MutationLine returns the production line a mutation touches, or "" when it
// touches none.
func MutationLine(m Mutation) string {
	switch v := m.(type) {
	case UpdateLine:
		return v.LineID
	case CreateFinancialEntry:
		return v.LineID
	case DeleteRecord:
		return v.LineID
	case CreateLine:
		return v.ID
	case AddMember:
		return v.LineID
	case RemoveMember:
		return v.LineID
	default:
		return ""
	}
}

// EncodeMutation validates and serializes a mutation for storage.
func EncodeMutation(m Mutation) (MutationKind, []byte, error) {
	if m == nil {
		return "", nil, errors.New("mutation is nil")
	}
	if err := m.validate(); err != nil {
		return "", nil, err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return m.Kind(), data, nil
}

// DecodeMutation restores a stored mutation. Unknown kinds yield an error
// wrapping ErrUnknownMutationKind.
func DecodeMutation(kind MutationKind, payload []byte) (Mutation, error) {
	var (
		m   Mutation
		err error
	)
	switch kind {
	case MutationUpdateLine:
		var v UpdateLine
		err = json.Unmarshal(payload, &v)
		m = v
	case MutationCreateFinancialEntry:
		var v CreateFinancialEntry
		err = json.Unmarshal(payload, &v)
		m = v
	case MutationDeleteRecord:
		var v DeleteRecord
		err = json.Unmarshal(payload, &v)
		m = v
	case MutationCreateLine:
		var v CreateLine
		err = json.Unmarshal(payload, &v)
		m = v
	case MutationAddMember:
		var v AddMember
		err = json.Unmarshal(payload, &v)
		m = v
	case MutationRemoveMember:
		var v RemoveMember
		err = json.Unmarshal(payload, &v)
		m = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMutationKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return m, nil
}

// PendingMutation is a stored mutation awaiting replay.
type PendingMutation struct {
	ID      int64
	Kind    MutationKind
	Payload []byte
	// Mutation is nil when DecodeErr is set.
	Mutation  Mutation
	DecodeErr error
	Status    Status
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}
