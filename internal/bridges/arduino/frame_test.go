package arduino

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseFrame_Device(t *testing.T) {
	f, err := ParseFrame([]byte(`{"DEVICE":[{"G":"0","V":0,"D":1003,"DA":"1.2.3"},{"G":1,"V":"2","D":"11","DA":{"on":true}}]}`))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if len(f.Device) != 2 {
		t.Fatalf("len(Device) = %d, want 2", len(f.Device))
	}
	if f.Device[0].Identity != VersionIdentity {
		t.Errorf("Device[0] = %v, want %v", f.Device[0].Identity, VersionIdentity)
	}
	if string(f.Device[0].Data) != `"1.2.3"` {
		t.Errorf("Device[0].Data = %s, want \"1.2.3\"", f.Device[0].Data)
	}
	want := Identity{Group: "1", Vendor: 2, Type: 11}
	if f.Device[1].Identity != want {
		t.Errorf("Device[1] = %v, want %v", f.Device[1].Identity, want)
	}
}

func TestParseFrame_ControlSections(t *testing.T) {
	f, err := ParseFrame([]byte(`{"PLUGIN":[{"G":"0101","V":0,"D":11}],"ACK":{"G":"0","V":0,"D":999,"DA":"00FF00"}}`))
	if err != nil {
		t.Fatalf("ParseFrame() error = %v", err)
	}
	if len(f.Plugin) != 1 || f.Plugin[0].Group != "0101" {
		t.Errorf("Plugin = %+v, want one entry for group 0101", f.Plugin)
	}
	if len(f.Ack) == 0 {
		t.Error("Ack is empty, want payload")
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	lines := map[string]string{
		"truncated json":       `{"DEVICE":[{"G":"0","V":0`,
		"plain text":           `hello arduino`,
		"json array":           `[1,2,3]`,
		"no known section":     `{"FOO":1}`,
		"empty object":         `{}`,
		"device not a list":    `{"DEVICE":{"G":"0"}}`,
		"group with separator": `{"DEVICE":[{"G":"0_1","V":0,"D":1,"DA":1}]}`,
		"non numeric vendor":   `{"DEVICE":[{"G":"0","V":"x","D":1,"DA":1}]}`,
		"missing type":         `{"DEVICE":[{"G":"0","V":0,"DA":1}]}`,
		"empty line":           ``,
	}

	for name, line := range lines {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrame([]byte(line))
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("ParseFrame(%q) error = %v, want ErrMalformedFrame", line, err)
			}
		})
	}
}

func TestEncodeFrame(t *testing.T) {
	got, err := EncodeFrame(StatusLEDIdentity, json.RawMessage(`"FFFFFF"`))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	want := `{"DEVICE":[{"G":"0","V":0,"D":999,"DA":"FFFFFF"}]}` + "\n"
	if string(got) != want {
		t.Errorf("EncodeFrame() = %q, want %q", got, want)
	}

	query, _ := json.Marshal(VersionQuery)
	got, err = EncodeFrame(VersionIdentity, query)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	want = `{"DEVICE":[{"G":"0","V":0,"D":1003,"DA":"VNO"}]}` + "\n"
	if string(got) != want {
		t.Errorf("EncodeFrame() = %q, want %q", got, want)
	}
}

func TestEntry_VersionReport(t *testing.T) {
	tests := []struct {
		name   string
		entry  Entry
		want   string
		wantOK bool
	}{
		{"report", Entry{Identity: VersionIdentity, Data: json.RawMessage(`"1.2.3"`)}, "1.2.3", true},
		{"query echo", Entry{Identity: VersionIdentity, Data: json.RawMessage(`"VNO"`)}, "", false},
		{"numeric payload", Entry{Identity: VersionIdentity, Data: json.RawMessage(`12`)}, "", false},
		{"other device", Entry{Identity: StatusLEDIdentity, Data: json.RawMessage(`"1.2.3"`)}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.entry.VersionReport()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("VersionReport() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMarshalPayload(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		wantErr bool
	}{
		{name: "string", in: "00FF00", want: `"00FF00"`},
		{name: "number", in: 42, want: `42`},
		{name: "raw json", in: json.RawMessage(`{"on":true}`), want: `{"on":true}`},
		{name: "nil", in: nil, want: `null`},
		{name: "invalid raw", in: json.RawMessage(`{`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := marshalPayload(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("marshalPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(got) != tt.want {
				t.Errorf("marshalPayload() = %s, want %s", got, tt.want)
			}
		})
	}
}
