package ot

// Transform produces (aPrime, bPrime) such that applying s then bPrime
// yields the same text as applying other then aPrime, given two
// sequences built against the same base text (s.BaseLen() ==
// other.BaseLen()). priority breaks ties when both sequences insert at
// the same position; PriorityLeft keeps s's insert first, PriorityRight
// keeps other's insert first.
func (s *OperationSeq) Transform(other *OperationSeq, priority Priority) (*OperationSeq, *OperationSeq, error) {
	if s.baseLen != other.baseLen {
		return nil, nil, errBaseLenMismatch
	}

	aPrime := WithCapacity(len(s.ops))
	bPrime := WithCapacity(len(other.ops))

	ops1 := s.ops
	ops2 := other.ops
	i1, i2 := 0, 0
	var op1, op2 Operation

	next1 := func() {
		if op1 == nil && i1 < len(ops1) {
			op1 = ops1[i1]
			i1++
		}
	}
	next2 := func() {
		if op2 == nil && i2 < len(ops2) {
			op2 = ops2[i2]
			i2++
		}
	}

	takeInsert1 := func(in Insert) {
		aPrime.Insert(in.Text)
		bPrime.Retain(uint64(len([]rune(in.Text))))
		op1 = nil
	}
	takeInsert2 := func(in Insert) {
		aPrime.Retain(uint64(len([]rune(in.Text))))
		bPrime.Insert(in.Text)
		op2 = nil
	}

	for {
		next1()
		next2()
		if op1 == nil && op2 == nil {
			break
		}

		if in1, ok := op1.(Insert); ok && priority == PriorityLeft {
			takeInsert1(in1)
			continue
		}
		if in2, ok := op2.(Insert); ok {
			takeInsert2(in2)
			continue
		}
		if in1, ok := op1.(Insert); ok {
			takeInsert1(in1)
			continue
		}
		if op1 == nil || op2 == nil {
			return nil, nil, errBaseLenMismatch
		}

		switch o1 := op1.(type) {
		case Retain:
			switch o2 := op2.(type) {
			case Retain:
				m := min64(o1.N, o2.N)
				aPrime.Retain(m)
				bPrime.Retain(m)
				op1 = shrinkRetain(o1, m)
				op2 = shrinkRetain(o2, m)
			case Delete:
				m := min64(o1.N, o2.N)
				bPrime.Delete(m)
				op1 = shrinkRetain(o1, m)
				op2 = shrinkDelete(o2, m)
			}
		case Delete:
			switch o2 := op2.(type) {
			case Retain:
				m := min64(o1.N, o2.N)
				aPrime.Delete(m)
				op1 = shrinkDelete(o1, m)
				op2 = shrinkRetain(o2, m)
			case Delete:
				m := min64(o1.N, o2.N)
				op1 = shrinkDelete(o1, m)
				op2 = shrinkDelete(o2, m)
			}
		}
	}

	return aPrime, bPrime, nil
}
