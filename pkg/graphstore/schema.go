package graphstore

// Graph labels.
const (
	PersonLabel  = "PERSON"
	ContactLabel = "CONTACT"
)

// ConstraintKind distinguishes uniqueness from property existence.
type ConstraintKind int

const (
	Unique ConstraintKind = iota
	Exists
)

// Constraint describes one schema constraint.
type Constraint struct {
	Name     string
	Kind     ConstraintKind
	OnEdge   bool
	Property string
}

// Index describes one range index on a node or edge property.
type Index struct {
	Name     string
	OnEdge   bool
	Property string
}

// PIDUnique backs every pid lookup; no separate pid index is created.
var PIDUnique = Constraint{Name: "pid_unique", Kind: Unique, Property: "pid"}

var existenceConstraints = []Constraint{
	{Name: "pid_exist", Kind: Exists, Property: "pid"},
	{Name: "hid_exist", Kind: Exists, Property: "hid"},
	{Name: "age_exist", Kind: Exists, Property: "age"},
	{Name: "age_group_exist", Kind: Exists, Property: "age_group"},
	{Name: "duration_exist", Kind: Exists, OnEdge: true, Property: "duration"},
	{Name: "src_act_exist", Kind: Exists, OnEdge: true, Property: "src_act"},
	{Name: "trg_act_exist", Kind: Exists, OnEdge: true, Property: "trg_act"},
	{Name: "occur_exist", Kind: Exists, OnEdge: true, Property: "occur"},
}

// Constraints returns the constraints for edition. Existence constraints
// require the enterprise edition.
func Constraints(edition Edition) []Constraint {
	out := []Constraint{PIDUnique}
	if edition == Enterprise {
		out = append(out, existenceConstraints...)
	}
	return out
}

// AllConstraints lists every constraint name either edition may create.
func AllConstraints() []Constraint {
	return Constraints(Enterprise)
}

// Indexes lists the property indexes created by EnsureIndexes.
var Indexes = []Index{
	{Name: "idx_age", Property: "age"},
	{Name: "idx_age_group", Property: "age_group"},
	{Name: "idx_gender", Property: "gender"},
	{Name: "idx_fips", Property: "fips"},
	{Name: "idx_hid", Property: "hid"},
	{Name: "idx_duration", OnEdge: true, Property: "duration"},
	{Name: "idx_src_act", OnEdge: true, Property: "src_act"},
	{Name: "idx_trg_act", OnEdge: true, Property: "trg_act"},
	{Name: "idx_occur", OnEdge: true, Property: "occur"},
	{Name: "idx_seq", OnEdge: true, Property: "seq"},
}
