package livesync

import (
	"sync"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// propagation callbacks receive the current bearer credential ("" when logged out).
// the REST client and the channel manager register one each so that the credential
// reaches every outbound surface before the first authenticated request.
type PropagateFunc = func(credential string)

type SessionState struct {
	mutex      sync.Mutex
	credential string
	identity   *Identity

	propagateCallbacks *CallbackList[PropagateFunc]
}

func NewSessionState() *SessionState {
	return &SessionState{
		propagateCallbacks: NewCallbackList[PropagateFunc](),
	}
}

// identity may be nil, in which case claims embedded in the credential are
// extracted best-effort to pre-populate display fields before any round-trip
func (self *SessionState) SetSession(credential string, identity *Identity) {
	if identity == nil {
		identity = IdentityFromJwt(credential)
	}

	self.mutex.Lock()
	self.credential = credential
	self.identity = identity
	self.mutex.Unlock()

	for _, propagate := range self.propagateCallbacks.Get() {
		propagate(credential)
	}
}

func (self *SessionState) ClearSession() {
	self.mutex.Lock()
	self.credential = ""
	self.identity = nil
	self.mutex.Unlock()

	for _, propagate := range self.propagateCallbacks.Get() {
		propagate("")
	}
}

func (self *SessionState) GetSession() (string, *Identity) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.credential, self.identity
}

// the callback is invoked immediately with the current credential, so a
// transport attached after session rehydration does not miss the value.
// the returned func removes the callback.
func (self *SessionState) AddPropagateCallback(propagate PropagateFunc) func() {
	self.mutex.Lock()
	credential := self.credential
	self.mutex.Unlock()

	propagate(credential)

	callbackId := self.propagateCallbacks.Add(propagate)
	return func() {
		self.propagateCallbacks.Remove(callbackId)
	}
}

// best-effort claim extraction. the token is not verified here;
// the backend is the authority and rejects bad tokens on first use.
// decoding failures degrade to zero-valued fields, never an error.
func IdentityFromJwt(jwt string) *Identity {
	identity := &Identity{}
	if jwt == "" {
		return identity
	}

	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return identity
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return identity
	}

	if userId, ok := claims["user_id"]; ok {
		if userIdFloat, ok := userId.(float64); ok {
			identity.UserId = int64(userIdFloat)
		}
	}
	if role, ok := claims["role"]; ok {
		switch roleValue := role.(type) {
		case string:
			identity.Role = ParseRole(roleValue)
		case float64:
			identity.Role = Role(int(roleValue))
		}
	}
	if displayName, ok := claims["display_name"]; ok {
		if displayNameStr, ok := displayName.(string); ok {
			identity.DisplayName = displayNameStr
		}
	}

	return identity
}
