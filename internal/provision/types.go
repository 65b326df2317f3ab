package provision

import "time"

// RequestState is the lifecycle state of an account request.
type RequestState string

const (
	StatePending  RequestState = "pending"
	StateApproved RequestState = "approved"
	StateRejected RequestState = "rejected"
)

// ContactInfo is one way of reaching a user. A user owns an ordered list of
// these; position in the slice is the persisted ordinal.
type ContactInfo struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Contact     string `json:"contact"`
	Primary     bool   `json:"primary"`
}

// User is an account in the canonical directory. Smart-card attributes are
// optional and absent unless the issuing agency supplied them.
type User struct {
	UUID         string `json:"uuid"`
	Login        string `json:"login"`
	PasswordHash string `json:"-"`

	FirstName  string  `json:"first_name"`
	MiddleName *string `json:"middle_name,omitempty"`
	LastName   string  `json:"last_name"`
	Suffix     *string `json:"suffix,omitempty"`

	Credential        *string `json:"credential,omitempty"`
	SerialNumber      *string `json:"serial_number,omitempty"`
	DistinguishedName *string `json:"distinguished_name,omitempty"`
	Agency            *string `json:"agency,omitempty"`
	CountryCode       *string `json:"country_code,omitempty"`
	Citizenship       *string `json:"citizenship,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Active    bool      `json:"active"`
	Locked    bool      `json:"locked"`

	ContactInfo []ContactInfo `json:"contact_info,omitempty"`
	Roles       []string      `json:"roles,omitempty"`
}

// Credentials is the smart-card subset of a user record, read and written
// as a unit.
type Credentials struct {
	Credential        *string `json:"credential,omitempty"`
	SerialNumber      *string `json:"serial_number,omitempty"`
	DistinguishedName *string `json:"distinguished_name,omitempty"`
	Agency            *string `json:"agency,omitempty"`
	CountryCode       *string `json:"country_code,omitempty"`
	Citizenship       *string `json:"citizenship,omitempty"`
}

// Role groups an ordered list of permission strings under a unique name.
// Permissions are opaque here; order is preserved because the authorization
// layer may attach meaning to it.
type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions,omitempty"`
	Active      bool     `json:"active"`
}

// AccountRequest is a pending application for an account. The embedded User
// lives in the shadow store until the request is approved, at which point it
// is promoted to the canonical directory. Approval and rejection are
// mutually exclusive and terminal.
type AccountRequest struct {
	UUID string `json:"uuid"`
	User User   `json:"user"`

	// Password and ConfirmPassword carry the applicant's plaintext choice
	// on the way in; only PasswordHash is ever persisted or read back.
	Password        string `json:"-"`
	ConfirmPassword string `json:"-"`
	PasswordHash    string `json:"-"`

	Justification *string `json:"justification,omitempty"`
	VouchName     *string `json:"vouch_name,omitempty"`
	VouchContact  *string `json:"vouch_contact,omitempty"`

	State RequestState `json:"state"`

	ApprovedBy *string    `json:"approved_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	RejectedBy     *string    `json:"rejected_by,omitempty"`
	RejectedReason *string    `json:"rejected_reason,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
}
