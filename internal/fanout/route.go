package fanout

import "github.com/okian/tabulator/internal/domain/model"

// Delivery is one event for one audience.
type Delivery struct {
	Role  model.Role
	Event model.Event
}

// Route maps an event to its audiences. Judges only hear about band
// changes; admins hear about everything, with band changes reduced to a
// refresh hint.
func Route(ev model.Event) []Delivery {
	switch e := ev.(type) {
	case model.BandChanged:
		return []Delivery{
			{Role: model.RoleJudge, Event: e},
			{Role: model.RoleAdmin, Event: model.AdminUpdate{Type: model.AdminUpdateBandChange, BandID: e.BandID}},
		}
	case model.ScoresSubmitted:
		return []Delivery{{Role: model.RoleAdmin, Event: e}}
	case model.AdminUpdate:
		return []Delivery{{Role: model.RoleAdmin, Event: e}}
	default:
		return nil
	}
}
