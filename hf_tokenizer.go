package main

import (
	"fmt"
	"strings"

	tk "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// HFTokenizer wraps a HuggingFace-format tokenizer.json so pretrained
// tokenizers can drive training without retraining BPE here. Decoding goes
// through an ID-to-token table built from the tokenizer's vocabulary.
type HFTokenizer struct {
	inner    *tk.Tokenizer
	idToTok  []string
	specials map[string]bool
}

// LoadHFTokenizer reads a tokenizer.json file.
func LoadHFTokenizer(path string) (*HFTokenizer, error) {
	inner, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: failed to load %s: %w", path, err)
	}

	vocab := inner.GetVocab(true)
	idToTok := make([]string, len(vocab))
	for tok, id := range vocab {
		if id >= 0 && id < len(idToTok) {
			idToTok[id] = tok
		}
	}

	return &HFTokenizer{
		inner:   inner,
		idToTok: idToTok,
		specials: map[string]bool{
			"<pad>": true, "<bos>": true, "<eos>": true, "<unk>": true,
			"<s>": true, "</s>": true,
		},
	}, nil
}

// Encode converts text to token IDs.
func (t *HFTokenizer) Encode(text string) []int {
	enc, err := t.inner.EncodeSingle(text)
	if err != nil {
		return nil
	}
	ids := make([]int, len(enc.Ids))
	for i, v := range enc.Ids {
		ids[i] = int(v)
	}
	return ids
}

// Decode converts token IDs back to text, dropping special tokens. HF BPE
// marks word boundaries with the Ġ prefix; those become spaces.
func (t *HFTokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(t.idToTok) {
			continue
		}
		tok := t.idToTok[id]
		if t.specials[tok] {
			continue
		}
		tok = strings.ReplaceAll(tok, "Ġ", " ")
		sb.WriteString(tok)
	}
	return sb.String()
}

// VocabSize returns the vocabulary size including special tokens.
func (t *HFTokenizer) VocabSize() int {
	return len(t.idToTok)
}

// Save writes the tokenizer back out in HuggingFace format.
func (t *HFTokenizer) Save(filename string) error {
	return t.inner.Save(filename, false)
}
