package irccd

import "testing"

func TestParsePrefixToken(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantOK  bool
		modes   string
		symbols string
	}{
		{"standard", "(ov)@+", true, "ov", "@+"},
		{"extended", "(qaohv)~&@%+", true, "qaohv", "~&@%+"},
		{"mismatched lengths", "(ov)@", false, "", ""},
		{"no parens", "ov@+", false, "", ""},
		{"empty", "", false, "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parsePrefixToken(tc.in)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if ok && (got.modes != tc.modes || got.symbols != tc.symbols) {
				t.Errorf("got %+v, want modes=%q symbols=%q", got, tc.modes, tc.symbols)
			}
		})
	}
}

func TestPrefixTableStripPrefixes(t *testing.T) {
	table := prefixTable{modes: "ov", symbols: "@+"}

	nick, bits := table.stripPrefixes("@markand")
	if nick != "markand" {
		t.Errorf("nick = %q", nick)
	}
	wantBit, _ := table.bitFor('o')
	if bits != wantBit {
		t.Errorf("bits = %v, want %v", bits, wantBit)
	}

	nick, bits = table.stripPrefixes("plain")
	if nick != "plain" || bits != 0 {
		t.Errorf("plain nickname was altered: %q %v", nick, bits)
	}
}

func TestWalkModeString(t *testing.T) {
	type call struct {
		add  bool
		mode byte
		arg  string
	}
	var got []call

	walkModeString("+o-v+s", []string{"alice", "bob"}, func(add bool, mode byte, arg string) {
		got = append(got, call{add, mode, arg})
	})

	want := []call{
		{true, 'o', "alice"},
		{false, 'v', "bob"},
		{true, 's', ""},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d calls, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWalkModeStringArgConsuming(t *testing.T) {
	var got []byte
	walkModeString("+b", []string{"nick!*@*"}, func(add bool, mode byte, arg string) {
		got = append(got, mode)
	})
	if len(got) != 0 {
		t.Errorf("expected ban mode to be consumed and ignored, got %v", got)
	}
}
