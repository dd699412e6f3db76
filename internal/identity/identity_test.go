package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type attrSource struct {
	Email *string
	Name  *string
}

func (a *attrSource) Field(name string) (string, bool) {
	switch name {
	case FieldEmail:
		if a.Email == nil {
			return "", false
		}
		return *a.Email, true
	case FieldName:
		if a.Name == nil {
			return "", false
		}
		return *a.Name, true
	}
	return "", false
}

type panicSource struct{}

func (panicSource) Field(string) (string, bool) { panic("boom") }

func strp(s string) *string { return &s }

func TestResolveMapSource(t *testing.T) {
	p := Resolve(Map{"email": "  Random@Example.com ", "name": " Ada "})
	assert.Equal(t, "random@example.com", p.Email)
	assert.Equal(t, "Ada", p.DisplayName)
}

func TestResolveAttributeSource(t *testing.T) {
	p := Resolve(&attrSource{Email: strp("Paid@Creator.com"), Name: strp("Paid Creator")})
	assert.Equal(t, "paid@creator.com", p.Email)
	assert.Equal(t, "Paid Creator", p.DisplayName)
}

func TestResolveMissingFields(t *testing.T) {
	cases := map[string]FieldSource{
		"nil source":       nil,
		"empty map":        Map{},
		"nil map":          Map(nil),
		"non-string email": Map{"email": 42, "name": []string{"x"}},
		"blank name":       Map{"name": "   "},
		"attr nil fields":  &attrSource{},
		"panicking source": panicSource{},
		"anonymous":        Anonymous,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			p := Resolve(src)
			assert.Equal(t, "", p.Email)
			assert.Equal(t, DefaultDisplayName, p.DisplayName)
		})
	}
}

func TestSessionWrappers(t *testing.T) {
	assert.False(t, Anonymous.IsLoggedIn())

	s := LoggedIn(Map{"email": "a@b.c"})
	assert.True(t, s.IsLoggedIn())
	v, ok := s.Field(FieldEmail)
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", v)

	empty := LoggedIn(nil)
	assert.True(t, empty.IsLoggedIn())
	assert.Equal(t, Principal{DisplayName: DefaultDisplayName}, Resolve(empty))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := ContextWithPrincipal(context.Background(), Principal{Email: "a@b.c", DisplayName: "A"})
	p, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "a@b.c", p.Email)
}
