/*Package sip speaks the web-form dialect of the SIP measurement instrument.

The instrument has no API; it is operated through the HTML form served by its
embedded web server.  This package knows the form field names of the firmware
versions in the lab, renders one form submission per measurement run, and
reads the returned page to decide whether the run was accepted.
*/
package sip

// Firmware versions the tool knows how to talk to.
const (
	Version101   = "1.0.1"
	Version131h1 = "1.3.1h-1"
)

// Markers scraped from the instrument's HTML.  The presence of these buttons
// is the only readiness/success signal the firmware gives us.
const (
	submitButton = `<button name="submit" type="submit" value="1"><b>Submit</b>`
	cancelButton = `<button name="submit" type="submit" value="0"><b>Cancel</b>`
	webUIError   = "ERROR : Web UI Error"
)

// FieldNames maps logical run parameter names to the form field names of one
// firmware version.  The vendor renamed nearly every field between releases,
// so the mapping is data, not code.
type FieldNames struct {
	// Filename is the field holding the run name stored on the device.
	Filename string

	// Stimulus and Response are the prefixes for the numbered channel
	// pair fields, e.g. Stimulus "stim_chan_" yields stim_chan_1, ...
	Stimulus string
	Response string

	// Params maps logical parameter names to form fields.
	Params map[string]string

	// RequiresAuth marks versions whose web server demands basic auth.
	RequiresAuth bool
}

var namesV101 = FieldNames{
	Filename: "n4",
	Stimulus: "n1_",
	Response: "n2_",
	Params: map[string]string{
		"start_freq":         "v11",
		"stop_freq":          "v12",
		"n_steps":            "v13",
		"amplitude":          "v14",
		"settle_time":        "v21",
		"settle_cycles":      "v22",
		"integration_time":   "v23",
		"integration_cycles": "v24",
		"resistor_ohm":       "n3",
		"loop_count":         "loop",
		"master_slave_sel":   "msSel",
		"ext_trigger_sel":    "trigSel",
		"comment":            "n5",
		"submit":             "submit",
	},
}

var namesV131h1 = FieldNames{
	Filename: "log_prefix",
	Stimulus: "stim_chan_",
	Response: "resp_chan_",
	Params: map[string]string{
		"psip_mode":          "funcSelectBox",
		"sequence_script":    "sequence_script",
		"seq_loop_count":     "seq_loop_count",
		"stimulus_plus_p1":   "fx_sel1",
		"stimulus_minus_p2":  "fx_sel2",
		"sense_plus_p3":      "fx_sel3",
		"sense_minus_p4":     "fx_sel4",
		"start_freq":         "start_freq",
		"stop_freq":          "stop_freq",
		"n_steps":            "num_steps",
		"amplitude":          "amplitude",
		"settle_time":        "settle_time",
		"settle_cycles":      "settle_cycles",
		"integration_time":   "int_time",
		"integration_cycles": "int_cycles",
		"resistor_ohm":       "current_resistor",
		"loop_count":         "loop_count",
		"master_slave_sel":   "ms_sel",
		"ext_trigger_sel":    "trig_sel",
		"comment":            "user_comment",
		"submit":             "submit",
	},
	RequiresAuth: true,
}

// Names returns the field name table for a firmware version tag.
func Names(version string) (FieldNames, error) {
	switch version {
	case Version101:
		return namesV101, nil
	case Version131h1:
		return namesV131h1, nil
	default:
		return FieldNames{}, &ConfigError{
			Source: "--sip-version",
			Reason: "SIP software version " + version + " is not supported",
		}
	}
}

// defaultParams are the stock run parameters of the instrument, used when the
// parameter file does not override them.  All values are strings because the
// form is a form.
var defaultParams = map[string]interface{}{
	"psip_mode":          "1",
	"sequence_script":    "",
	"seq_loop_count":     "1",
	"stimulus_plus_p1":   "0",
	"stimulus_minus_p2":  "0",
	"sense_plus_p3":      "0",
	"sense_minus_p4":     "0",
	"start_freq":         "1000.0",
	"stop_freq":          "0.01",
	"n_steps":            "51",
	"amplitude":          "5.0",
	"settle_time":        "1",
	"settle_cycles":      "1",
	"integration_time":   "5",
	"integration_cycles": "5",
	"resistor_ohm":       "1000",
	"loop_count":         "1",
	"master_slave_sel":   "0",
	"ext_trigger_sel":    "0",
	"comment":            "comment",
	"submit":             "1",
}

// Defaults returns a copy of the instrument's stock run parameters.
func Defaults() map[string]interface{} {
	out := make(map[string]interface{}, len(defaultParams))
	for k, v := range defaultParams {
		out[k] = v
	}
	return out
}
