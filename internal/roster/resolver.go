package roster

// Resolution is the outcome of a successful lookup.
type Resolution struct {
	Person Person
	// CrossRole is set when the card is also enrolled under the other role. The
	// student record always wins; callers should report the collision.
	CrossRole bool
}

// Resolver maps card identifiers to people.
type Resolver struct {
	dir *Directory
}

// NewResolver returns a resolver over dir.
func NewResolver(dir *Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Normalize applies the directory's card normalization to raw.
func (r *Resolver) Normalize(raw string) string {
	return r.dir.norm.Normalize(raw)
}

// Resolve normalizes raw and looks it up among students, then staff.
// It returns ErrUnknownCard or ErrAmbiguousCard when no single person matches.
func (r *Resolver) Resolve(raw string) (Resolution, error) {
	id := r.dir.norm.Normalize(raw)
	if id == "" {
		return Resolution{}, ErrUnknownCard
	}
	if _, ok := r.dir.ambiguous[id]; ok {
		return Resolution{}, ErrAmbiguousCard
	}
	if p, ok := r.dir.students[id]; ok {
		_, cross := r.dir.staff[id]
		return Resolution{Person: p, CrossRole: cross}, nil
	}
	if p, ok := r.dir.staff[id]; ok {
		return Resolution{Person: p}, nil
	}
	return Resolution{}, ErrUnknownCard
}
