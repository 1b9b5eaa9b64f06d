package livesync

import (
	"testing"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func testJwt(t *testing.T, claims gojwt.MapClaims) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %s", err)
	}
	return signed
}

func TestIdentityFromJwt(t *testing.T) {
	jwt := testJwt(t, gojwt.MapClaims{
		"user_id":      float64(7),
		"role":         "Admin",
		"display_name": "Dana",
	})

	identity := IdentityFromJwt(jwt)
	assert.Equal(t, int64(7), identity.UserId)
	assert.Equal(t, RoleAdmin, identity.Role)
	assert.Equal(t, "Dana", identity.DisplayName)
}

func TestIdentityFromJwtNumericRole(t *testing.T) {
	jwt := testJwt(t, gojwt.MapClaims{
		"user_id": float64(3),
		"role":    float64(2),
	})

	identity := IdentityFromJwt(jwt)
	assert.Equal(t, RoleSuperAdmin, identity.Role)
}

func TestIdentityFromJwtDegradesGracefully(t *testing.T) {
	// malformed credentials yield zero-valued fields, never a panic or error
	for _, jwt := range []string{"", "garbage", "a.b.c"} {
		identity := IdentityFromJwt(jwt)
		assert.Equal(t, int64(0), identity.UserId)
		assert.Equal(t, RoleUser, identity.Role)
		assert.Equal(t, "", identity.DisplayName)
	}
}

func TestRoleOrdering(t *testing.T) {
	user := &Identity{Role: RoleUser}
	admin := &Identity{Role: RoleAdmin}
	superAdmin := &Identity{Role: RoleSuperAdmin}

	assert.Equal(t, true, user.AtLeast(RoleUser))
	assert.Equal(t, false, user.AtLeast(RoleAdmin))
	assert.Equal(t, true, admin.AtLeast(RoleUser))
	assert.Equal(t, true, admin.AtLeast(RoleAdmin))
	assert.Equal(t, false, admin.AtLeast(RoleSuperAdmin))
	assert.Equal(t, true, superAdmin.AtLeast(RoleAdmin))

	var none *Identity
	assert.Equal(t, false, none.AtLeast(RoleUser))
}

func TestSessionPropagation(t *testing.T) {
	session := NewSessionState()

	propagated := []string{}
	dispose := session.AddPropagateCallback(func(credential string) {
		propagated = append(propagated, credential)
	})

	// invoked immediately with the current (empty) credential
	assert.Equal(t, []string{""}, propagated)

	session.SetSession("token-1", &Identity{UserId: 1})
	assert.Equal(t, []string{"", "token-1"}, propagated)

	credential, identity := session.GetSession()
	assert.Equal(t, "token-1", credential)
	assert.Equal(t, int64(1), identity.UserId)

	session.ClearSession()
	assert.Equal(t, []string{"", "token-1", ""}, propagated)
	credential, identity = session.GetSession()
	assert.Equal(t, "", credential)
	assert.Equal(t, true, identity == nil)

	// after dispose, no further propagation
	dispose()
	session.SetSession("token-2", &Identity{UserId: 2})
	assert.Equal(t, 3, len(propagated))
}

func TestSetSessionExtractsIdentity(t *testing.T) {
	jwt := testJwt(t, gojwt.MapClaims{
		"user_id":      float64(9),
		"role":         "SuperAdmin",
		"display_name": "Root",
	})

	session := NewSessionState()
	session.SetSession(jwt, nil)

	_, identity := session.GetSession()
	assert.Equal(t, int64(9), identity.UserId)
	assert.Equal(t, RoleSuperAdmin, identity.Role)
	assert.Equal(t, "Root", identity.DisplayName)
}
