package identity

// Map adapts mapping-style identity data such as decoded JWT claims or a
// userinfo document. Non-string values are reported as absent.
type Map map[string]any

func (m Map) Field(name string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Anonymous is a session with no authenticated principal.
var Anonymous Session = anonymous{}

type anonymous struct{}

func (anonymous) Field(string) (string, bool) { return "", false }

func (anonymous) IsLoggedIn() bool { return false }

// LoggedIn wraps src as an authenticated session.
func LoggedIn(src FieldSource) Session {
	return loggedIn{src: src}
}

type loggedIn struct {
	src FieldSource
}

func (s loggedIn) Field(name string) (string, bool) {
	if s.src == nil {
		return "", false
	}
	return s.src.Field(name)
}

func (loggedIn) IsLoggedIn() bool { return true }
