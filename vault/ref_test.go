package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefValidate(t *testing.T) {
	tests := []struct {
		name string
		ref  Ref
		ok   bool
	}{
		{"credential password", cred("c1", FieldPassword), true},
		{"credential totp", cred("c1", FieldTOTPSeed), true},
		{"database password", Ref{EntityDatabase, "db", FieldPassword}, true},
		{"database api key", Ref{EntityDatabase, "db", FieldAPIKey}, false},
		{"email totp", Ref{EntityEmailAccount, "e", FieldTOTPSeed}, false},
		{"unknown type", Ref{"server", "s", FieldPassword}, false},
		{"empty id", cred("", FieldPassword), false},
		{"slash in id", cred("a/b", FieldPassword), false},
		{"colon in id", cred("a:b", FieldPassword), false},
		{"control char", cred("a\nb", FieldPassword), false},
		{"too long", cred(strings.Repeat("x", MaxIDLength+1), FieldPassword), false},
		{"max length", cred(strings.Repeat("x", MaxIDLength), FieldPassword), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestRefString(t *testing.T) {
	r := cred("c1", FieldAPIKey)
	assert.Equal(t, "credential/c1/api_key", r.String())
	assert.Equal(t, "opsvault:field:v1:credential/c1/api_key", string(r.aad()))
}

func TestParseUpdateAction(t *testing.T) {
	for _, a := range []UpdateAction{ActionKeep, ActionSet, ActionClear} {
		got, err := ParseUpdateAction(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	_, err := ParseUpdateAction("")
	assert.Error(t, err)
	assert.Equal(t, "UpdateAction(9)", UpdateAction(9).String())
}

func TestSetCopiesValue(t *testing.T) {
	v := []byte("abc")
	u := Set(v)
	v[0] = 'x'
	assert.Equal(t, "abc", string(u.value))
	assert.NotNil(t, Set(nil).value)

	u.Wipe()
	assert.Equal(t, []byte{0, 0, 0}, u.value)
}
