package sip_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/geophys-tools/autosip/sip"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func wantConfigError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var ce *sip.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error is %T (%v), want *sip.ConfigError", err, err)
	}
}

func TestLoadChannels(t *testing.T) {
	path := writeFile(t, "channels.json", `{"2": [3, 4], "1": [1, 2]}`)
	cm, err := sip.LoadChannels(path)
	if err != nil {
		t.Fatal(err)
	}
	stims := cm.Stimuli()
	if len(stims) != 2 || stims[0] != 1 || stims[1] != 2 {
		t.Fatalf("Stimuli() = %v, want [1 2]", stims)
	}
	resp := cm.Responses(2)
	if len(resp) != 2 || resp[0] != 3 || resp[1] != 4 {
		t.Fatalf("Responses(2) = %v, want [3 4]", resp)
	}
	if cm.Pairs() != 4 {
		t.Errorf("Pairs() = %d, want 4", cm.Pairs())
	}
	if s := cm.String(); s != "1->1,2 2->3,4" {
		t.Errorf("String() = %q", s)
	}
}

func TestLoadChannelsEmptyResponseList(t *testing.T) {
	path := writeFile(t, "channels.json", `{"1": []}`)
	_, err := sip.LoadChannels(path)
	wantConfigError(t, err)
}

func TestLoadChannelsBadStimulusKey(t *testing.T) {
	for _, content := range []string{`{"0": [1]}`, `{"-2": [1]}`, `{"x": [1]}`} {
		path := writeFile(t, "channels.json", content)
		_, err := sip.LoadChannels(path)
		wantConfigError(t, err)
	}
}

func TestLoadChannelsBadResponseChannel(t *testing.T) {
	path := writeFile(t, "channels.json", `{"1": [2, 0]}`)
	_, err := sip.LoadChannels(path)
	wantConfigError(t, err)
}

func TestLoadChannelsMissingFile(t *testing.T) {
	_, err := sip.LoadChannels(filepath.Join(t.TempDir(), "nope.json"))
	wantConfigError(t, err)
}

func TestLoadChannelsInvalidJSON(t *testing.T) {
	path := writeFile(t, "channels.json", `{"1": [1,`)
	_, err := sip.LoadChannels(path)
	wantConfigError(t, err)
}

func TestLoadChannelsEmptyMapping(t *testing.T) {
	path := writeFile(t, "channels.json", `{}`)
	_, err := sip.LoadChannels(path)
	wantConfigError(t, err)
}

func TestLoadParamsDefaultsOnly(t *testing.T) {
	params, err := sip.LoadParams("")
	if err != nil {
		t.Fatal(err)
	}
	if params["amplitude"] != "5.0" {
		t.Errorf("amplitude default = %q, want %q", params["amplitude"], "5.0")
	}
	if params["n_steps"] != "51" {
		t.Errorf("n_steps default = %q, want %q", params["n_steps"], "51")
	}
}

func TestLoadParamsFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, "params.json", `{"start_freq": "500", "site_note": "well 3"}`)
	params, err := sip.LoadParams(path)
	if err != nil {
		t.Fatal(err)
	}
	if params["start_freq"] != "500" {
		t.Errorf("start_freq = %q, want file value %q", params["start_freq"], "500")
	}
	if params["stop_freq"] != "0.01" {
		t.Errorf("stop_freq = %q, want default %q", params["stop_freq"], "0.01")
	}
	if params["site_note"] != "well 3" {
		t.Errorf("operator parameter dropped, site_note = %q", params["site_note"])
	}
}

func TestLoadParamsMissingRequired(t *testing.T) {
	path := writeFile(t, "params.json", `{"n_steps": ""}`)
	_, err := sip.LoadParams(path)
	wantConfigError(t, err)
}

func TestLoadParamsMissingFile(t *testing.T) {
	_, err := sip.LoadParams(filepath.Join(t.TempDir(), "nope.json"))
	wantConfigError(t, err)
}
