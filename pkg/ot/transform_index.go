package ot

// TransformIndex transforms a cursor position through an operation
// that has just been applied, so that it continues to point at the
// same logical location in the text.
func TransformIndex(operation *OperationSeq, position uint32) uint32 {
	index := int64(position)
	newIndex := index

	for _, op := range operation.Ops() {
		switch v := op.(type) {
		case Retain:
			index -= int64(v.N)
		case Insert:
			newIndex += int64(len([]rune(v.Text)))
		case Delete:
			if index >= int64(v.N) {
				newIndex -= int64(v.N)
			} else if index > 0 {
				newIndex -= index
			}
			index -= int64(v.N)
		}
		if index < 0 {
			break
		}
	}

	if newIndex < 0 {
		return 0
	}
	return uint32(newIndex)
}
