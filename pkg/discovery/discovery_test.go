package discovery

import "testing"

func TestParse(t *testing.T) {
    cases := []struct {
        in   string
        want []string
    }{
        {"", nil},
        {"a:1", []string{"a:1"}},
        {" a:1 , b:2 ", []string{"a:1", "b:2"}},
        {",,a:1, ,b:2,", []string{"a:1", "b:2"}},
    }
    for _, c := range cases {
        got := Parse(c.in)
        if len(got) != len(c.want) {
            t.Fatalf("len mismatch for %q: got %d want %d", c.in, len(got), len(c.want))
        }
        for i := range got {
            if got[i] != c.want[i] {
                t.Fatalf("[%q] item %d: got %q want %q", c.in, i, got[i], c.want[i])
            }
        }
    }
}

func TestStatic(t *testing.T) {
    d := Static(" a:1 ", "", "b:2")
    got := d.Seeds()
    if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
        t.Fatalf("unexpected seeds: %#v", got)
    }
    got[0] = "x"
    if d.Seeds()[0] != "a:1" {
        t.Fatalf("seeds slice shared with caller")
    }
}
