package search

import (
	"errors"
	"strings"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"prediction:malicious", "field:prediction operator:= word:malicious"},
		{"score >= 0.9", "field:score operator:>= word:0.9"},
		{`event~"failed password"`, "field:event operator:~ word:failed password"},
		{
			"sshd OR (user!=root AND -prediction:normal)",
			"word:sshd OR:OR (:( field:user operator:!= word:root AND:AND NOT:- field:prediction operator:= word:normal ):)",
		},
		{"time>now-1h score>-1", "field:time operator:> word:now-1h field:score operator:> word:-1"},
		{`event:"Åsa said \"hi\""`, `field:event operator:= word:Åsa said "hi"`},
		{"a !b && c", "word:a NOT:! word:b AND:&& word:c"},
		{`"score" > 1`, "word:score operator:> word:1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			toks, err := tokenize(tt.input)
			if err != nil {
				t.Fatalf("tokenize() error = %v", err)
			}
			if last := toks[len(toks)-1]; last.kind != kindEOF {
				t.Fatalf("last token = %v, want end", last.kind)
			}
			parts := make([]string, 0, len(toks)-1)
			for _, tok := range toks[:len(toks)-1] {
				parts = append(parts, tok.kind.String()+":"+tok.text)
			}
			if got := strings.Join(parts, " "); got != tt.want {
				t.Errorf("tokenize(%q)\n got  %s\n want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"sshd", `"sshd"`},
		{"prediction:malicious score>0.9", `(prediction="malicious" AND score>"0.9")`},
		{"a OR b c", `("a" OR ("b" AND "c"))`},
		{"(a OR b) c", `(("a" OR "b") AND "c")`},
		{"NOT a", `NOT "a"`},
		{"-user:root", `NOT user="root"`},
		{"a AND NOT (b OR c)", `("a" AND NOT ("b" OR "c"))`},
		{"Score>0.5", `score>"0.5"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			n, err := ParseQuery(tt.input)
			if err != nil {
				t.Fatalf("ParseQuery() error = %v", err)
			}
			got := ""
			if n != nil {
				got = n.String()
			}
			if got != tt.want {
				t.Errorf("ParseQuery(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseQuery_Errors(t *testing.T) {
	inputs := []string{
		"(a OR b",
		"a)",
		"score>",
		"NOT",
		"a OR",
		`event:"unterminated`,
		`"quoted":value`,
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseQuery(input); !errors.Is(err, ErrSyntax) {
				t.Errorf("ParseQuery(%q) error = %v, want ErrSyntax", input, err)
			}
		})
	}
}

func TestParseQuery_DepthLimit(t *testing.T) {
	deep := ""
	for i := 0; i < maxDepth+1; i++ {
		deep += "("
	}
	deep += "a"
	for i := 0; i < maxDepth+1; i++ {
		deep += ")"
	}
	if _, err := ParseQuery(deep); !errors.Is(err, ErrSyntax) {
		t.Errorf("expected ErrSyntax for deep nesting, got %v", err)
	}
}

func TestParseQuery_ErrorColumn(t *testing.T) {
	_, err := ParseQuery("user:root )")
	if err == nil || !strings.Contains(err.Error(), "column 11") {
		t.Errorf("error = %v, want it to name column 11", err)
	}
}
