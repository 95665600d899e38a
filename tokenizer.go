package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Tokenizers turn text into integer IDs and back. Three variants:
//
//   bpe          byte-level Byte-Pair Encoding, trained on the corpus
//   char         character-level, mostly for tests and tiny corpora
//   huggingface  a pretrained tokenizer.json (see hf_tokenizer.go)
//
// BPE starts from the 256 single bytes and repeatedly merges the most
// frequent adjacent pair into a new token until the target vocabulary size
// is reached. Encoding replays the merges by rank: at each step the
// lowest-ranked (earliest-learned) applicable merge wins. Byte-level means
// there are no unknown tokens; any input can be represented.
//
// RECOMMENDED READING:
// - "Neural Machine Translation of Rare Words with Subword Units"
//   Sennrich, Haddow, Birch (2016) https://arxiv.org/abs/1508.07909
//
// ===========================================================================

// Special token constants.
const (
	PadToken = "<|pad|>"
	UnkToken = "<|unk|>"
	EosToken = "<|endoftext|>"
)

// TextTokenizer converts between text and token IDs.
type TextTokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
	VocabSize() int
	Save(filename string) error
}

// bpePair is a bigram merge rule.
type bpePair struct {
	first, second string
}

// BPETokenizer implements byte-level Byte-Pair Encoding.
type BPETokenizer struct {
	vocab    map[string]int // token -> ID
	vocabInv map[int]string // ID -> token
	merges   []bpePair      // learned merges, in training order
	ranks    map[bpePair]int
	special  map[string]int
}

// NewBPETokenizer creates an untrained BPE tokenizer holding the special
// tokens and the 256 byte tokens.
func NewBPETokenizer() *BPETokenizer {
	t := &BPETokenizer{
		vocab:    make(map[string]int),
		vocabInv: make(map[int]string),
		ranks:    make(map[bpePair]int),
		special: map[string]int{
			PadToken: 0,
			UnkToken: 1,
			EosToken: 2,
		},
	}

	for tok, id := range t.special {
		t.vocab[tok] = id
		t.vocabInv[id] = tok
	}
	for i := 0; i < 256; i++ {
		t.addToken(string(rune(i)))
	}

	return t
}

func (t *BPETokenizer) addToken(token string) int {
	if id, ok := t.vocab[token]; ok {
		return id
	}
	id := len(t.vocab)
	t.vocab[token] = id
	t.vocabInv[id] = token
	return id
}

// Train learns merges from the corpus until the vocabulary reaches
// targetVocabSize or no pairs remain.
func (t *BPETokenizer) Train(corpus []string, targetVocabSize int) error {
	if targetVocabSize <= len(t.vocab) {
		return fmt.Errorf("tokenizer: target vocab size %d not above base vocab %d", targetVocabSize, len(t.vocab))
	}

	words := make([][]string, 0, len(corpus))
	for _, text := range corpus {
		if len(text) == 0 {
			continue
		}
		word := make([]string, 0, len(text))
		for _, b := range []byte(text) {
			word = append(word, string(rune(b)))
		}
		words = append(words, word)
	}

	for len(t.vocab) < targetVocabSize {
		counts := make(map[bpePair]int)
		for _, word := range words {
			for i := 0; i+1 < len(word); i++ {
				counts[bpePair{word[i], word[i+1]}]++
			}
		}
		if len(counts) == 0 {
			break
		}

		var best bpePair
		bestCount := 0
		for p, c := range counts {
			if c > bestCount {
				best, bestCount = p, c
			}
		}

		t.addToken(best.first + best.second)
		t.ranks[best] = len(t.merges)
		t.merges = append(t.merges, best)

		for i, word := range words {
			words[i] = mergePair(word, best)
		}
	}

	return nil
}

// mergePair replaces every adjacent occurrence of the pair in the word.
func mergePair(word []string, p bpePair) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); {
		if i+1 < len(word) && word[i] == p.first && word[i+1] == p.second {
			out = append(out, p.first+p.second)
			i += 2
		} else {
			out = append(out, word[i])
			i++
		}
	}
	return out
}

// Encode converts text to token IDs by greedily applying the
// lowest-ranked applicable merge until none applies.
func (t *BPETokenizer) Encode(text string) []int {
	word := make([]string, 0, len(text))
	for _, b := range []byte(text) {
		word = append(word, string(rune(b)))
	}

	for len(word) > 1 {
		bestRank := len(t.merges)
		bestIdx := -1
		for i := 0; i+1 < len(word); i++ {
			if rank, ok := t.ranks[bpePair{word[i], word[i+1]}]; ok && rank < bestRank {
				bestRank, bestIdx = rank, i
			}
		}
		if bestIdx < 0 {
			break
		}
		word = mergePair(word, t.merges[bestRank])
	}

	ids := make([]int, 0, len(word))
	for _, tok := range word {
		if id, ok := t.vocab[tok]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, t.special[UnkToken])
		}
	}
	return ids
}

// Decode converts token IDs back to text, dropping special tokens.
func (t *BPETokenizer) Decode(ids []int) string {
	var sb strings.Builder
	for _, id := range ids {
		tok, ok := t.vocabInv[id]
		if !ok {
			continue
		}
		if _, isSpecial := t.special[tok]; isSpecial {
			continue
		}
		// Tokens are sequences of runes in [0,256); map back to raw bytes.
		for _, r := range tok {
			sb.WriteByte(byte(r))
		}
	}
	return sb.String()
}

// VocabSize returns the vocabulary size including special tokens.
func (t *BPETokenizer) VocabSize() int {
	return len(t.vocab)
}

// Save writes the learned merges to a file. The byte-level base vocabulary
// is implicit, so merges fully determine the tokenizer.
func (t *BPETokenizer) Save(filename string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("tokenizer: failed to create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("tokenizer: failed to close file: %w", cerr)
		}
	}()

	w := bufio.NewWriter(f)
	if _, err = fmt.Fprintln(w, "BPE_MERGES"); err != nil {
		return err
	}
	// Hex keeps arbitrary byte sequences line-safe.
	for _, m := range t.merges {
		if _, err = fmt.Fprintf(w, "%s %s\n",
			hex.EncodeToString(runesToBytes(m.first)),
			hex.EncodeToString(runesToBytes(m.second))); err != nil {
			return err
		}
	}
	return w.Flush()
}

// LoadBPETokenizer reads a tokenizer saved by Save and rebuilds its
// vocabulary from the merges.
func LoadBPETokenizer(filename string) (*BPETokenizer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: failed to open file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() || scanner.Text() != "BPE_MERGES" {
		return nil, fmt.Errorf("tokenizer: %s is not a BPE merges file", filename)
	}

	t := NewBPETokenizer()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		firstHex, secondHex, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("tokenizer: malformed merge line %q", line)
		}
		first, err1 := hex.DecodeString(firstHex)
		second, err2 := hex.DecodeString(secondHex)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("tokenizer: malformed merge line %q", line)
		}

		m := bpePair{bytesToRunes(first), bytesToRunes(second)}
		t.addToken(m.first + m.second)
		t.ranks[m] = len(t.merges)
		t.merges = append(t.merges, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("tokenizer: error reading file: %w", err)
	}

	return t, nil
}

// runesToBytes lowers a byte-token string (runes in [0,256)) to raw bytes.
func runesToBytes(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		out = append(out, byte(r))
	}
	return out
}

// bytesToRunes is the inverse of runesToBytes.
func bytesToRunes(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// CharTokenizer is a character-level tokenizer. Less compact than BPE but
// trivially inspectable, which makes it the default for tests.
type CharTokenizer struct {
	charToID map[rune]int
	idToChar map[int]rune
}

// NewCharTokenizer builds a character vocabulary from the corpus, sorted
// for deterministic IDs.
func NewCharTokenizer(corpus []string) *CharTokenizer {
	seen := make(map[rune]bool)
	for _, text := range corpus {
		for _, r := range text {
			seen[r] = true
		}
	}

	chars := make([]rune, 0, len(seen))
	for r := range seen {
		chars = append(chars, r)
	}
	sort.Slice(chars, func(i, j int) bool { return chars[i] < chars[j] })

	t := &CharTokenizer{
		charToID: make(map[rune]int, len(chars)),
		idToChar: make(map[int]rune, len(chars)),
	}
	for id, r := range chars {
		t.charToID[r] = id
		t.idToChar[id] = r
	}
	return t
}

// Encode converts text to token IDs, skipping unknown characters.
func (t *CharTokenizer) Encode(text string) []int {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		if id, ok := t.charToID[r]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Decode converts token IDs back to text.
func (t *CharTokenizer) Decode(ids []int) string {
	runes := make([]rune, 0, len(ids))
	for _, id := range ids {
		if r, ok := t.idToChar[id]; ok {
			runes = append(runes, r)
		}
	}
	return string(runes)
}

// VocabSize returns the vocabulary size.
func (t *CharTokenizer) VocabSize() int {
	return len(t.charToID)
}

// Save writes the vocabulary to a file, one hex-encoded character per line
// in ID order.
func (t *CharTokenizer) Save(filename string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("tokenizer: failed to create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if _, err = fmt.Fprintln(w, "CHAR_VOCAB"); err != nil {
		return err
	}
	for id := 0; id < len(t.idToChar); id++ {
		if _, err = fmt.Fprintf(w, "%d\t%s\n", id, hex.EncodeToString([]byte(string(t.idToChar[id])))); err != nil {
			return err
		}
	}
	return w.Flush()
}

// LoadCharTokenizer reads a vocabulary saved by Save.
func LoadCharTokenizer(filename string) (*CharTokenizer, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: failed to open file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() || scanner.Text() != "CHAR_VOCAB" {
		return nil, fmt.Errorf("tokenizer: %s is not a char vocab file", filename)
	}

	t := &CharTokenizer{
		charToID: make(map[rune]int),
		idToChar: make(map[int]rune),
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		idStr, charHex, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("tokenizer: malformed vocab line %q", line)
		}
		var id int
		if _, err := fmt.Sscanf(idStr, "%d", &id); err != nil {
			return nil, fmt.Errorf("tokenizer: malformed vocab line %q", line)
		}
		charBytes, err := hex.DecodeString(charHex)
		if err != nil {
			return nil, fmt.Errorf("tokenizer: malformed vocab line %q", line)
		}
		r := []rune(string(charBytes))[0]
		t.charToID[r] = id
		t.idToChar[id] = r
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return t, nil
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// BuildTokenizer constructs the tokenizer named in the config. Trained
// variants load from cfg.Path when the file exists, otherwise train on the
// corpus and save to cfg.Path when one is given.
func BuildTokenizer(cfg TokenizerConfig, corpus []string) (TextTokenizer, error) {
	switch cfg.Name {
	case "", "bpe":
		if cfg.Path != "" && fileExists(cfg.Path) {
			return LoadBPETokenizer(cfg.Path)
		}
		t := NewBPETokenizer()
		if err := t.Train(corpus, cfg.VocabSize); err != nil {
			return nil, err
		}
		if cfg.Path != "" {
			if err := t.Save(cfg.Path); err != nil {
				return nil, err
			}
		}
		return t, nil

	case "char":
		if cfg.Path != "" && fileExists(cfg.Path) {
			return LoadCharTokenizer(cfg.Path)
		}
		t := NewCharTokenizer(corpus)
		if cfg.Path != "" {
			if err := t.Save(cfg.Path); err != nil {
				return nil, err
			}
		}
		return t, nil

	case "huggingface":
		if cfg.Path == "" {
			return nil, configErrorf("tokenizer.path", "huggingface tokenizer needs a tokenizer.json path")
		}
		return LoadHFTokenizer(cfg.Path)

	default:
		return nil, configErrorf("tokenizer.name", "not sure how to build tokenizer: %q", cfg.Name)
	}
}
