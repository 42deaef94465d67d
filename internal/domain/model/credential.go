package model

import "time"

// Credential holds a vendor credential key-value pair. Service identifies
// the external system ("machineguardian") and Key the credential type within
// it ("username", "password").
type Credential struct {
	ID        int64
	Service   string
	Key       string
	Value     string
	UpdatedAt time.Time
}
