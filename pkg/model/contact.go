package model

// InitialOccur marks edges of the static initial contact network.
const InitialOccur = -1

// ContactEdge is one directed contact event from SourcePID to TargetPID
// during time slice Occur. Parallel edges between the same pair are
// allowed; (Occur, Seq) identifies a single edge across reloads.
type ContactEdge struct {
	TargetPID      int64  `json:"targetPID" validate:"min=0"`
	TargetActivity string `json:"targetActivity"`
	SourcePID      int64  `json:"sourcePID" validate:"min=0"`
	SourceActivity string `json:"sourceActivity"`
	Duration       int    `json:"duration" validate:"min=1"`
	Occur          int    `json:"occur" validate:"min=-1"`
	Seq            int64  `json:"seq" validate:"min=0"`
}

// Properties returns the CONTACT relationship property map.
func (e ContactEdge) Properties() map[string]any {
	return map[string]any{
		"occur":    int64(e.Occur),
		"duration": int64(e.Duration),
		"src_act":  e.SourceActivity,
		"trg_act":  e.TargetActivity,
		"seq":      e.Seq,
	}
}

// ContactFromProperties rebuilds the edge attributes of a CONTACT
// relationship. Endpoints are filled in by the caller.
func ContactFromProperties(props map[string]any) (ContactEdge, error) {
	var e ContactEdge
	occur, err := int64Prop(props, "occur")
	if err != nil {
		return e, err
	}
	duration, err := int64Prop(props, "duration")
	if err != nil {
		return e, err
	}
	e.Occur = int(occur)
	e.Duration = int(duration)
	e.SourceActivity = stringProp(props, "src_act")
	e.TargetActivity = stringProp(props, "trg_act")
	// seq is absent on edges written by older loaders
	if seq, err := int64Prop(props, "seq"); err == nil {
		e.Seq = seq
	}
	return e, nil
}

// ContactTriple is one row of an incoming-contact query: the edge plus
// both endpoint persons.
type ContactTriple struct {
	Source Person
	Target Person
	Edge   ContactEdge
}
