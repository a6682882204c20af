package call

import "testing"

func TestPortForURL(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{"http://example.com/", 80},
		{"https://example.com/", 443},
		{"http://example.com:8080/", 8080},
		{"https://example.com:9443/", 9443},
	}
	for _, c := range cases {
		got := portForURL(mustURL(t, c.raw))
		if got != c.want {
			t.Errorf("portForURL(%q) = %d, want %d", c.raw, got, c.want)
		}
	}
}
