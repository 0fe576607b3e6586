package model

import _ "embed"

// KeySchema is the JSON schema of the record key subject.
//
//go:embed schemas/key.json
var KeySchema string

// CustomerEnvelopeSchema is the JSON schema of the record value subject: a
// structured-mode envelope carrying a Customer.
//
//go:embed schemas/customer-envelope.json
var CustomerEnvelopeSchema string
