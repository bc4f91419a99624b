package ot

import (
	"errors"
	"strings"
)

// Apply applies the sequence to text, returning the resulting string.
// It is a pure function: it never mutates s or text.
func (s *OperationSeq) Apply(text string) (string, error) {
	runes := []rune(text)
	if uint64(len(runes)) != s.baseLen {
		return "", errors.New("ot: base text length does not match operation base length")
	}

	var out strings.Builder
	pos := 0
	for _, op := range s.ops {
		switch v := op.(type) {
		case Retain:
			end := pos + int(v.N)
			if end > len(runes) {
				return "", errors.New("ot: retain runs past end of text")
			}
			out.WriteString(string(runes[pos:end]))
			pos = end
		case Insert:
			out.WriteString(v.Text)
		case Delete:
			pos += int(v.N)
			if pos > len(runes) {
				return "", errors.New("ot: delete runs past end of text")
			}
		}
	}
	if pos != len(runes) {
		return "", errors.New("ot: operation does not cover entire text")
	}
	return out.String(), nil
}

// ApplyOperations folds a list of sequences over text in order.
func ApplyOperations(text string, ops []*OperationSeq) (string, error) {
	for _, op := range ops {
		var err error
		text, err = op.Apply(text)
		if err != nil {
			return "", err
		}
	}
	return text, nil
}
