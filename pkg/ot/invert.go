package ot

// Invert returns the sequence that undoes s's effect on text, for use
// by the client's undo stack.
func (s *OperationSeq) Invert(text string) *OperationSeq {
	inverted := WithCapacity(len(s.ops))
	runes := []rune(text)
	pos := 0
	for _, op := range s.ops {
		switch v := op.(type) {
		case Retain:
			inverted.Retain(v.N)
			pos += int(v.N)
		case Insert:
			inverted.Delete(uint64(len([]rune(v.Text))))
		case Delete:
			end := pos + int(v.N)
			if end > len(runes) {
				end = len(runes)
			}
			inverted.Insert(string(runes[pos:end]))
			pos = end
		}
	}
	return inverted
}
