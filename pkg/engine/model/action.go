package model

// Action is an action template bound to the activity it would transition.
// Actions derived directly from a design (the pre-instance create action)
// are bound to a fresh activity referencing that design.
type Action struct {
	Spec     *ActionSpec
	Design   *Design
	Activity *Activity
}

func (a *Action) ID() string { return a.Spec.ID }

func (a *Action) Name() string { return a.Spec.DisplayName() }

// FullID qualifies the action id with its design, eg "ticket_v1/close".
func (a *Action) FullID() string {
	return a.Design.ID + "/" + a.Spec.ID
}

// FullName is the human-readable form, eg "Ticket: Close".
func (a *Action) FullName() string {
	return a.Design.Name + ": " + a.Name()
}
