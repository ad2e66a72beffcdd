package items

import (
	"bytes"
	"strings"
	"testing"
)

const (
	Cardinality       = 10000
	CommonCardinality = Cardinality / 10
)

func TestMix(t *testing.T) {
	common := Common(CommonCardinality)
	ids := Identifiers(common)
	if len(ids) != CommonCardinality {
		t.Fatalf("expected %d common identifiers, got %d", CommonCardinality, len(ids))
	}
	shared := make(map[string]bool, len(ids))
	for _, id := range ids {
		shared[string(id)] = true
	}

	var n, fromCommon int
	for id := range Mix(common, Cardinality-CommonCardinality) {
		if !strings.HasPrefix(string(id), Prefix) {
			t.Fatalf("expected prefix %s, got %s", Prefix, string(id))
		}
		if len(id) != len(Prefix)+2*HashLen {
			t.Fatalf("expected %d bytes, got %d", len(Prefix)+2*HashLen, len(id))
		}
		if shared[string(id)] {
			fromCommon++
		}
		n++
	}
	if n != Cardinality {
		t.Fatalf("expected %d identifiers, got %d", Cardinality, n)
	}
	if fromCommon != CommonCardinality {
		t.Fatalf("expected %d common identifiers in the mix, got %d", CommonCardinality, fromCommon)
	}
}

func TestLabelAndLine(t *testing.T) {
	id := []byte("e:0e1f461bbefa6e07cc2ef06b9ee1ed25")
	label := Label(id)
	if string(label) != "l:0e1f461bbefa6e" {
		t.Fatalf("unexpected label %s", label)
	}
	if !bytes.Equal(Line(id, label), []byte("e:0e1f461bbefa6e07cc2ef06b9ee1ed25,l:0e1f461bbefa6e\n")) {
		t.Fatalf("unexpected line %s", Line(id, label))
	}
	if !bytes.Equal(Line(id, nil), append(id, '\n')) {
		t.Fatalf("unexpected line %s", Line(id, nil))
	}
}
