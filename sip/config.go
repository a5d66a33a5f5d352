package sip

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/knadh/koanf"
	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
)

// ChannelMap associates each stimulus channel with the response channels
// sensed while it is driven.  It is immutable after load.
type ChannelMap map[int][]int

// Stimuli returns the stimulus channels in ascending order, so that anything
// iterating the mapping is deterministic.
func (cm ChannelMap) Stimuli() []int {
	out := make([]int, 0, len(cm))
	for s := range cm {
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

// Responses returns the response channels for one stimulus channel.
func (cm ChannelMap) Responses(stim int) []int { return cm[stim] }

// Pairs counts the stimulus/response pairs in the mapping.
func (cm ChannelMap) Pairs() int {
	n := 0
	for _, rs := range cm {
		n += len(rs)
	}
	return n
}

// String renders the mapping like "1->2,3 2->4" for log lines.
func (cm ChannelMap) String() string {
	parts := make([]string, 0, len(cm))
	for _, stim := range cm.Stimuli() {
		parts = append(parts, fmt.Sprintf("%d->%s", stim, intsToCSV(cm[stim])))
	}
	return strings.Join(parts, " ")
}

// intsToCSV converts a slice of ints to CSV formatted data,
// e.g. []int{1,2,3} => "1,2,3".
func intsToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ",")
}

// LoadChannels reads a channel mapping file: a JSON object mapping
// string-encoded stimulus channel numbers to arrays of response channel
// numbers, e.g. {"1": [1, 2], "2": [3, 4]}.
func LoadChannels(path string) (ChannelMap, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
		return nil, &ConfigError{Source: path, Reason: "cannot read channel mapping", Err: err}
	}
	raw := map[string][]int{}
	if err := k.Unmarshal("", &raw); err != nil {
		return nil, &ConfigError{Source: path, Reason: "channel mapping has the wrong shape", Err: err}
	}
	cm := ChannelMap{}
	for key, resp := range raw {
		stim, err := strconv.Atoi(key)
		if err != nil || stim <= 0 {
			return nil, &ConfigError{Source: path, Reason: fmt.Sprintf("stimulus channel %q is not a positive integer", key)}
		}
		if len(resp) == 0 {
			return nil, &ConfigError{Source: path, Reason: fmt.Sprintf("stimulus channel %d has no response channels", stim)}
		}
		for _, r := range resp {
			if r <= 0 {
				return nil, &ConfigError{Source: path, Reason: fmt.Sprintf("response channel %d on stimulus channel %d is not positive", r, stim)}
			}
		}
		cm[stim] = resp
	}
	if len(cm) == 0 {
		return nil, &ConfigError{Source: path, Reason: "channel mapping is empty"}
	}
	return cm, nil
}

// requiredParams must be present and non-empty after the merge with the
// instrument defaults; a run without them is meaningless.
var requiredParams = []string{"start_freq", "stop_freq", "n_steps"}

// LoadParams reads the run parameter file, a flat JSON object, and merges it
// over the instrument defaults.  File values win.  An empty path yields the
// defaults alone.
func LoadParams(path string) (map[string]string, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, &ConfigError{Source: path, Reason: "loading parameter defaults", Err: err}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), kjson.Parser()); err != nil {
			return nil, &ConfigError{Source: path, Reason: "cannot read run parameters", Err: err}
		}
	}
	params := map[string]string{}
	for key, v := range k.All() {
		params[key] = fmt.Sprint(v)
	}
	for _, req := range requiredParams {
		if params[req] == "" {
			return nil, &ConfigError{Source: path, Reason: fmt.Sprintf("required run parameter %q is missing", req)}
		}
	}
	return params, nil
}
