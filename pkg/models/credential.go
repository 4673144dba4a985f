package models

// CredentialRecord is a named test account
type CredentialRecord struct {
	AccountID string `json:"-"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email,omitempty"`
	ID        int64  `json:"id,omitempty"`
}
