package orchestratornode

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestDetectTerminationNeedsPhraseAtTheEnd(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want bool
	}{
		{text: "goodbye", want: true},
		{text: "OK, goodbye!", want: true},
		{text: "that's all, goodbye", want: true},
		{text: "no, that’s all", want: true},
		{text: "bye for now, thanks", want: true},
		{text: "please end the call", want: true},
		{text: "bye-bye", want: true},
		{text: "don't hang up", want: false},
		{text: "please do not end the call", want: false},
		{text: "I won't hang up", want: false},
		{text: "bye-bye cake", want: false},
		{text: "my son says bye to the dog, now add milk", want: false},
		{text: "goodbye cruel world is my favourite song", want: false},
	}
	for _, tc := range cases {
		in := &GraphState{Text: tc.text, Logger: zerolog.Nop()}
		if got := DetectTermination(in, DefaultEndPhrases).Terminate; got != tc.want {
			t.Fatalf("DetectTermination(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestDetectTerminationCustomPhrase(t *testing.T) {
	t.Parallel()

	in := &GraphState{Text: "Thank you!", Logger: zerolog.Nop()}
	if !DetectTermination(in, []string{"thank you"}).Terminate {
		t.Fatal("a configured phrase made of courtesy words must still match")
	}
}
