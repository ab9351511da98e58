package ch_expr

// walk visits Postfix nodes depth first. Returning false from fn skips the children of the node.
func (s *SelectList) walk(fn func(*Postfix) bool) {
	for _, item := range s.Items {
		item.Expr.walk(fn)
	}
}

func (e *Expr) walk(fn func(*Postfix) bool) {
	if e == nil {
		return
	}
	for _, and := range e.Or {
		for _, not := range and.And {
			not.Cmp.walk(fn)
		}
	}
}

func (c *Comparison) walk(fn func(*Postfix) bool) {
	if c == nil {
		return
	}
	c.Left.walk(fn)
	if c.Tail == nil {
		return
	}
	switch {
	case c.Tail.Between != nil:
		c.Tail.Between.Low.walk(fn)
		c.Tail.Between.High.walk(fn)
	case c.Tail.In != nil:
		c.Tail.In.Right.walk(fn)
	case c.Tail.Like != nil:
		c.Tail.Like.Right.walk(fn)
	case c.Tail.Binary != nil:
		c.Tail.Binary.Right.walk(fn)
	}
}

func (a *Additive) walk(fn func(*Postfix) bool) {
	if a == nil {
		return
	}
	a.Left.walk(fn)
	for _, r := range a.Rest {
		r.Right.walk(fn)
	}
}

func (m *Mult) walk(fn func(*Postfix) bool) {
	if m == nil {
		return
	}
	m.Left.walk(fn)
	for _, r := range m.Rest {
		r.Right.walk(fn)
	}
}

func (u *Unary) walk(fn func(*Postfix) bool) {
	if u == nil {
		return
	}
	u.Value.walk(fn)
}

func (p *Postfix) walk(fn func(*Postfix) bool) {
	if p == nil || !fn(p) {
		return
	}
	p.Primary.walk(fn)
	for _, idx := range p.Index {
		idx.walk(fn)
	}
}

func (p *Primary) walk(fn func(*Postfix) bool) {
	if p == nil {
		return
	}
	switch {
	case p.Interval != nil:
		p.Interval.Value.walk(fn)
	case p.Case != nil:
		for _, w := range p.Case.Whens {
			w.When.walk(fn)
			w.Then.walk(fn)
		}
		p.Case.Else.walk(fn)
	case p.Lambda != nil:
		p.Lambda.Body.walk(fn)
	case p.Call != nil:
		for _, l := range p.Call.Lists {
			for _, a := range l.Args {
				a.Expr.walk(fn)
			}
		}
	case p.Array != nil:
		for _, e := range p.Array.Items {
			e.walk(fn)
		}
	case p.Paren != nil:
		for _, e := range p.Paren.Items {
			e.walk(fn)
		}
	}
}
