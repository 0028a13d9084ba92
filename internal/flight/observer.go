package flight

// Observer is told about every transition and command. Calls come from
// the control loop and must not block.
type Observer interface {
	PhaseChanged(t Transition)
	CommandIssued(c CommandRecord)
	FlightEnded(s Status)
}

// Observers fans out to each observer in order.
type Observers []Observer

func (o Observers) PhaseChanged(t Transition) {
	for _, obs := range o {
		obs.PhaseChanged(t)
	}
}

func (o Observers) CommandIssued(c CommandRecord) {
	for _, obs := range o {
		obs.CommandIssued(c)
	}
}

func (o Observers) FlightEnded(s Status) {
	for _, obs := range o {
		obs.FlightEnded(s)
	}
}

var _ Observer = Observers(nil)
