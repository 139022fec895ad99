package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_Match(t *testing.T) {
	tests := []struct {
		name    string
		setting string
		mode    Mode
		subject string
		want    bool
	}{
		{"empty setting", "", Equal, "example.com", false},
		{"exact list hit", "example.com, example.org", Equal, "example.org", true},
		{"exact list ignores case", "Example.com", Equal, "example.COM", true},
		{"exact list miss on subdomain", "example.com", Equal, "www.example.com", false},
		{"prefix list hit", "http_status:401,http_status:403", Prefix, "http_status:403:Forbidden", true},
		{"prefix list miss", "http_status:401", Prefix, "http_status:404", false},
		{"bare regex", `regex:^.*\.example\.com$`, Equal, "www.example.com", true},
		{"delimited regex", "regex:/^http_status:(401|403)(:|$)/", Prefix, "http_status:401", true},
		{"delimited regex miss", "regex:/^http_status:(401|403)(:|$)/", Prefix, "http_status:4010", false},
		{"case flag", "regex:/^EXAMPLE/i", Equal, "example.net", true},
		{"empty subject", "regex:.*", Equal, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.setting, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Match(tt.subject))
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("regex:/(unclosed/", Equal)
	assert.Error(t, err)

	_, err = Parse("regex:/abc/x", Equal)
	assert.Error(t, err)
}

func TestSet_Empty(t *testing.T) {
	var nilSet *Set
	assert.True(t, nilSet.Empty())
	assert.False(t, nilSet.Match("x"))
	assert.True(t, MustParse(" , ", Equal).Empty())
	assert.False(t, MustParse("a", Equal).Empty())
}
