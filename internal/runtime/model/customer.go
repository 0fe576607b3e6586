// Package model holds the payload types carried inside cekafka envelopes.
package model

import (
	"fmt"
	"strings"
)

// CustomerEventType is the envelope type for customer records.
const CustomerEventType = "com.example.customer"

// Customer is the application payload published to and read from the topic.
// The core never modifies it; CustomerID stays the caller's original value.
type Customer struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	CustomerID int64  `json:"customerId"`
}

// Validate reports whether the record can be published.
func (c Customer) Validate() error {
	if strings.TrimSpace(c.LastName) == "" {
		return fmt.Errorf("lastName is required")
	}
	if c.CustomerID < 0 {
		return fmt.Errorf("customerId must not be negative, got %d", c.CustomerID)
	}
	return nil
}

// LastNameAffinity returns the field mixed into the partitioning key.
func LastNameAffinity(c Customer) string {
	return c.LastName
}
