package storage

import (
	"encoding/json"
	"fmt"

	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/util"
)

const (
	envelopeVersion = 1

	// SchemePlainJSON stores Data as JSON. Used for records whose secret
	// members are already Field ciphertext.
	SchemePlainJSON = "plain-json"
	// SchemeSealed stores Data as AES-256-GCM ciphertext.
	SchemeSealed = "aes256gcm"
)

// Envelope is the stored form of one record.
type Envelope struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Nonce   []byte `json:"nonce,omitempty"`
	Data    []byte `json:"data"`
	Tag     []byte `json:"tag,omitempty"`
	Version uint64 `json:"version,omitempty"`
}

// Clone returns a deep copy of env.
func (env *Envelope) Clone() *Envelope {
	if env == nil {
		return nil
	}
	return &Envelope{
		Ver:     env.Ver,
		Scheme:  env.Scheme,
		Nonce:   util.CopyBytes(env.Nonce),
		Data:    util.CopyBytes(env.Data),
		Tag:     util.CopyBytes(env.Tag),
		Version: env.Version,
	}
}

// EncodeJSON marshals v into a plain-json envelope.
func EncodeJSON(v any, version uint64) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Envelope{Ver: envelopeVersion, Scheme: SchemePlainJSON, Data: data, Version: version}, nil
}

// DecodeJSON unmarshals a plain-json envelope into v.
func DecodeJSON(env *Envelope, v any) error {
	if err := checkEnvelope(env, SchemePlainJSON); err != nil {
		return err
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// SealRecord encrypts plaintext under recordKey, binding aad.
func SealRecord(recordKey, plaintext, aad []byte, version uint64) (*Envelope, error) {
	f, err := crypto.EncryptWithAAD(plaintext, recordKey, aad)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Ver:     envelopeVersion,
		Scheme:  SchemeSealed,
		Nonce:   f.Nonce,
		Data:    f.Ciphertext,
		Tag:     f.Tag,
		Version: version,
	}, nil
}

// OpenRecord decrypts a sealed envelope.
func OpenRecord(recordKey []byte, env *Envelope, aad []byte) ([]byte, error) {
	if err := checkEnvelope(env, SchemeSealed); err != nil {
		return nil, err
	}
	return crypto.DecryptWithAAD(crypto.Field{
		Algorithm:  crypto.AlgAES256GCM,
		Nonce:      env.Nonce,
		Ciphertext: env.Data,
		Tag:        env.Tag,
	}, recordKey, aad)
}

// SealJSON marshals v and seals it.
func SealJSON(recordKey, aad []byte, v any, version uint64) (*Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	defer util.WipeBytes(data)
	return SealRecord(recordKey, data, aad, version)
}

// OpenJSON opens a sealed envelope and unmarshals it into v.
func OpenJSON(recordKey []byte, env *Envelope, aad []byte, v any) error {
	data, err := OpenRecord(recordKey, env, aad)
	if err != nil {
		return err
	}
	defer util.WipeBytes(data)
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

func checkEnvelope(env *Envelope, scheme string) error {
	if env == nil {
		return fmt.Errorf("nil envelope")
	}
	if env.Ver != envelopeVersion {
		return fmt.Errorf("unsupported envelope version: %d", env.Ver)
	}
	if env.Scheme != scheme {
		return fmt.Errorf("unexpected envelope scheme %q, want %q", env.Scheme, scheme)
	}
	return nil
}
