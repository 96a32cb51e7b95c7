package vault

import (
	"unicode"
	"unicode/utf8"
)

// EntityType names the kind of record a secret belongs to.
type EntityType string

const (
	EntityCredential   EntityType = "credential"
	EntityDatabase     EntityType = "database"
	EntityEmailAccount EntityType = "email_account"
)

// FieldName names a secret column.
type FieldName string

const (
	FieldPassword FieldName = "password"
	FieldAPIKey   FieldName = "api_key"
	FieldTOTPSeed FieldName = "totp_seed"
)

// MaxIDLength bounds entity IDs.
const MaxIDLength = 256

// allowedFields lists the secret columns each entity type carries.
var allowedFields = map[EntityType][]FieldName{
	EntityCredential:   {FieldPassword, FieldAPIKey, FieldTOTPSeed},
	EntityDatabase:     {FieldPassword},
	EntityEmailAccount: {FieldPassword},
}

// Ref identifies one secret column of one record.
type Ref struct {
	EntityType EntityType `json:"entity_type"`
	EntityID   string     `json:"entity_id"`
	Name       FieldName  `json:"name"`
}

// Validate checks that r names a known entity type and one of its fields.
func (r Ref) Validate() error {
	fields, ok := allowedFields[r.EntityType]
	if !ok {
		return validationErrorf("unknown entity type %q", r.EntityType)
	}
	if err := validateID(r.EntityID, "entity ID"); err != nil {
		return err
	}
	for _, f := range fields {
		if f == r.Name {
			return nil
		}
	}
	return validationErrorf("%s has no secret field %q", r.EntityType, r.Name)
}

// String returns "type/id/name".
func (r Ref) String() string {
	return string(r.EntityType) + "/" + r.EntityID + "/" + string(r.Name)
}

// aad binds a ciphertext to its column.
func (r Ref) aad() []byte {
	return []byte("opsvault:field:v1:" + r.String())
}

func validateID(id, label string) error {
	if id == "" {
		return validationErrorf("%s must not be empty", label)
	}
	if len(id) > MaxIDLength {
		return validationErrorf("%s exceeds maximum length of %d", label, MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return validationErrorf("%s contains invalid UTF-8", label)
	}
	for _, r := range id {
		if r == ':' || r == '/' {
			return validationErrorf("%s contains forbidden character %q", label, r)
		}
		if unicode.IsControl(r) {
			return validationErrorf("%s contains control character", label)
		}
	}
	return nil
}
