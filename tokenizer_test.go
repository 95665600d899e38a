package main

import (
	"errors"
	"path/filepath"
	"testing"
)

var trainCorpus = []string{
	"the quick brown fox jumps over the lazy dog",
	"the quick brown fox jumps again and again",
	"pack my box with five dozen liquor jugs",
}

// TestBPERoundTrip checks byte-level BPE reproduces arbitrary input.
func TestBPERoundTrip(t *testing.T) {
	tok := NewBPETokenizer()
	if err := tok.Train(trainCorpus, 300); err != nil {
		t.Fatal(err)
	}

	inputs := []string{
		"the quick brown fox",
		"completely unseen text with ünïcödé",
		"",
	}
	for _, text := range inputs {
		ids := tok.Encode(text)
		if got := tok.Decode(ids); got != text {
			t.Errorf("round trip failed: %q -> %q", text, got)
		}
	}
}

// TestBPEMergesCompress checks that training actually merges: common text
// encodes to fewer tokens than bytes.
func TestBPEMergesCompress(t *testing.T) {
	tok := NewBPETokenizer()
	if err := tok.Train(trainCorpus, 350); err != nil {
		t.Fatal(err)
	}

	text := "the quick brown fox"
	ids := tok.Encode(text)
	if len(ids) >= len(text) {
		t.Errorf("no compression: %d tokens for %d bytes", len(ids), len(text))
	}
	if tok.VocabSize() <= 259 {
		t.Errorf("no merges learned, vocab size %d", tok.VocabSize())
	}
}

// TestBPESaveLoad checks a reloaded tokenizer encodes identically.
func TestBPESaveLoad(t *testing.T) {
	tok := NewBPETokenizer()
	if err := tok.Train(trainCorpus, 300); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "tok.bpe")
	if err := tok.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadBPETokenizer(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.VocabSize() != tok.VocabSize() {
		t.Errorf("vocab size %d after reload, want %d", loaded.VocabSize(), tok.VocabSize())
	}

	text := "the quick brown fox jumps"
	a, b := tok.Encode(text), loaded.Encode(text)
	if len(a) != len(b) {
		t.Fatalf("encoding lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("encodings differ at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

// TestCharTokenizer checks the character tokenizer round trip and
// deterministic IDs.
func TestCharTokenizer(t *testing.T) {
	tok := NewCharTokenizer([]string{"abcabc", "bcd"})

	if tok.VocabSize() != 4 {
		t.Errorf("vocab size = %d, want 4", tok.VocabSize())
	}

	text := "abcd"
	if got := tok.Decode(tok.Encode(text)); got != text {
		t.Errorf("round trip failed: %q -> %q", text, got)
	}

	// Sorted construction: 'a' < 'b' < 'c' < 'd'.
	ids := tok.Encode("abcd")
	for i := 1; i < len(ids); i++ {
		if ids[i] != ids[i-1]+1 {
			t.Errorf("IDs not in sorted order: %v", ids)
		}
	}

	// Unknown characters are skipped.
	if ids := tok.Encode("axb"); len(ids) != 2 {
		t.Errorf("unknown char not skipped: %v", ids)
	}
}

// TestCharTokenizerSaveLoad checks vocab persistence.
func TestCharTokenizerSaveLoad(t *testing.T) {
	tok := NewCharTokenizer([]string{"hello world"})
	path := filepath.Join(t.TempDir(), "tok.chars")
	if err := tok.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadCharTokenizer(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := loaded.Decode(loaded.Encode("hello")); got != "hello" {
		t.Errorf("round trip after reload: %q", got)
	}
}

// TestBuildTokenizerDispatch checks the factory and its error path.
func TestBuildTokenizerDispatch(t *testing.T) {
	tok, err := BuildTokenizer(TokenizerConfig{Name: "char"}, trainCorpus)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tok.(*CharTokenizer); !ok {
		t.Errorf("char: got %T", tok)
	}

	tok, err = BuildTokenizer(TokenizerConfig{Name: "bpe", VocabSize: 300}, trainCorpus)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tok.(*BPETokenizer); !ok {
		t.Errorf("bpe: got %T", tok)
	}

	_, err = BuildTokenizer(TokenizerConfig{Name: "wordpiece"}, trainCorpus)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("unknown tokenizer: expected ConfigError, got %v", err)
	}
}
