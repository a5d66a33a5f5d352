package sip

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// runStamp is the sortable UTC encoding appended to run names.  Minute
// precision: two runs of the same basename within one minute would collide on
// the device, which is an operator error, not something detected here.
const runStamp = "20060102T1504Z"

// RunRequest is one scheduled measurement submission, fully rendered.  It is
// built fresh per trigger and discarded after submission.
type RunRequest struct {
	// Name is the run name stored on the instrument.
	Name string

	// Time is the trigger the request was built for.
	Time time.Time

	// Values is the form body.
	Values url.Values
}

// Plan carries everything needed to render submissions except the trigger
// time.
type Plan struct {
	Basename string
	Channels ChannelMap
	Params   map[string]string
	Names    FieldNames
}

// Build renders the form payload for one trigger.  It is pure: identical
// inputs always produce an identical payload.
//
// The run name is the basename suffixed with the trigger time.  The channel
// mapping is flattened into numbered stimulus/response field pairs in sorted
// stimulus order, and run parameters are copied through under the firmware's
// field names.
func (p Plan) Build(t time.Time) RunRequest {
	name := p.Basename + "-" + t.UTC().Format(runStamp)
	v := url.Values{}
	pair := 0
	for _, stim := range p.Channels.Stimuli() {
		for _, resp := range p.Channels.Responses(stim) {
			pair++
			v.Set(fmt.Sprintf("%s%d", p.Names.Stimulus, pair), strconv.Itoa(stim))
			v.Set(fmt.Sprintf("%s%d", p.Names.Response, pair), strconv.Itoa(resp))
		}
	}
	for key, value := range p.Params {
		if key == "filename" {
			// the builder owns the run name
			continue
		}
		field, ok := p.Names.Params[key]
		if !ok {
			if _, stock := defaultParams[key]; stock {
				// a stock parameter this firmware version has no field for
				continue
			}
			// operator-supplied parameters pass through verbatim
			field = key
		}
		v.Set(field, value)
	}
	v.Set(p.Names.Filename, name)
	return RunRequest{Name: name, Time: t, Values: v}
}
