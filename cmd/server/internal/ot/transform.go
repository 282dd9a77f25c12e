package ot

// Transform rebases op against prior: the result is the operation
// equivalent to op, re-expressed as if prior had already been applied to
// the buffer op was computed against. Pure function; ranges are half-open
// [start, end).
//
// Two deliberate asymmetries carried over from the observed system: an
// insert landing inside a concurrent delete collapses to the deletion's
// start, while a delete spanning a concurrent insert grows to carry the
// inserted text along.
func Transform(op, prior Operation) Operation {
	if op.IsNeutral() || prior.IsNeutral() {
		return op
	}

	switch {
	case op.Kind == KindInsert && prior.Kind == KindInsert:
		return transformInsertInsert(op, prior)
	case op.Kind == KindInsert && prior.Kind == KindDelete:
		return transformInsertDelete(op, prior)
	case op.Kind == KindDelete && prior.Kind == KindInsert:
		return transformDeleteInsert(op, prior)
	default:
		return transformDeleteDelete(op, prior)
	}
}

// TransformAll folds op across priors in order, producing the operation
// rebased onto the state after every prior has been applied. Callers must
// feed log entries in ascending revision order.
func TransformAll(op Operation, priors []Operation) Operation {
	for _, prior := range priors {
		op = Transform(op, prior)
	}
	return op
}

func transformInsertInsert(op, prior Operation) Operation {
	if op.Position <= prior.Position {
		return op
	}
	return NewInsert(op.Position+len(prior.Text), op.Text)
}

func transformInsertDelete(op, prior Operation) Operation {
	switch {
	case op.Position <= prior.Position:
		return op
	case op.Position >= prior.End():
		return NewInsert(op.Position-len(prior.Text), op.Text)
	default:
		// Inside the deleted range: the insertion point collapses to
		// the start of the deletion.
		return NewInsert(prior.Position, op.Text)
	}
}

func transformDeleteInsert(op, prior Operation) Operation {
	switch {
	case prior.Position <= op.Position:
		return NewDelete(op.Position+len(prior.Text), op.Text)
	case prior.Position < op.End():
		// The insert landed strictly inside the deleted span; the
		// delete must now remove the inserted text as well.
		rel := prior.Position - op.Position
		return NewDelete(op.Position, op.Text[:rel]+prior.Text+op.Text[rel:])
	default:
		return op
	}
}

func transformDeleteDelete(op, prior Operation) Operation {
	switch {
	case op.End() <= prior.Position:
		// Entirely before the prior deletion.
		return op
	case op.Position >= prior.End():
		// Entirely after: shift left by what prior removed.
		return NewDelete(op.Position-len(prior.Text), op.Text)
	case op.Position >= prior.Position && op.End() <= prior.End():
		// Fully covered by the prior deletion (equal ranges included).
		return Neutral
	case op.Position < prior.Position && op.End() <= prior.End():
		// Right part of op already removed; keep the left remainder.
		return NewDelete(op.Position, op.Text[:prior.Position-op.Position])
	case op.Position >= prior.Position && op.End() > prior.End():
		// Left part of op already removed; keep the right remainder,
		// anchored where prior started.
		return NewDelete(prior.Position, op.Text[prior.End()-op.Position:])
	default:
		// op strictly contains prior: drop the covered slice, keep the
		// surrounding text, anchored at op's start.
		left := op.Text[:prior.Position-op.Position]
		right := op.Text[prior.End()-op.Position:]
		return NewDelete(op.Position, left+right)
	}
}
