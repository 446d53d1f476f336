package dremio

import (
	"errors"
	"reflect"
	"testing"
)

func TestBaseHeadersOrder(t *testing.T) {
	tests := []struct {
		name string
		cfg  ConnectionConfig
		want Headers
	}{
		{
			name: "defaults",
			cfg:  ConnectionConfig{},
			want: Headers{
				{Key: HeaderRoutingTag, Value: DefaultRoutingTag},
				{Key: HeaderRoutingQueue, Value: DefaultRoutingQueue},
			},
		},
		{
			name: "properties then engine then routing",
			cfg: ConnectionConfig{
				SessionProperties: Headers{{Key: "schema", Value: "demo"}, {Key: "quoting", Value: "BACK_TICK"}},
				Engine:            "preview",
				RoutingTag:        "etl",
				RoutingQueue:      "High Cost",
			},
			want: Headers{
				{Key: "schema", Value: "demo"},
				{Key: "quoting", Value: "BACK_TICK"},
				{Key: HeaderRoutingEngine, Value: "preview"},
				{Key: HeaderRoutingTag, Value: "etl"},
				{Key: HeaderRoutingQueue, Value: "High Cost"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.BaseHeaders()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBaseHeadersDoesNotAlias(t *testing.T) {
	props := make(Headers, 1, 4)
	props[0] = Header{Key: "schema", Value: "demo"}
	cfg := ConnectionConfig{SessionProperties: props}

	_ = cfg.BaseHeaders()
	if got := props[:cap(props)][1]; got != (Header{}) {
		t.Errorf("BaseHeaders wrote into the caller's slice: %v", got)
	}
}

func withProps(cfg ConnectionConfig, props ...Header) ConnectionConfig {
	cfg.SessionProperties = props
	return cfg
}

func withEngine(cfg ConnectionConfig, engine string) ConnectionConfig {
	cfg.Engine = engine
	return cfg
}

func TestValidate(t *testing.T) {
	cred := UsernamePassword{Username: "dremio", Secret: "dremio123"}
	tests := []struct {
		name  string
		cfg   ConnectionConfig
		field string
	}{
		{"valid", NewConnectionConfig("localhost", 32010, cred), ""},
		{"no hostname", NewConnectionConfig("", 32010, cred), "hostname"},
		{"zero port", NewConnectionConfig("localhost", 0, cred), "port"},
		{"port too large", NewConnectionConfig("localhost", 70000, cred), "port"},
		{"no credential", NewConnectionConfig("localhost", 32010, nil), "credential"},
		{"uppercase property key", withProps(NewConnectionConfig("localhost", 32010, cred), Header{Key: "Schema", Value: "sales"}), ""},
		{"property key with space", withProps(NewConnectionConfig("localhost", 32010, cred), Header{Key: "bad key", Value: "x"}), "session_properties"},
		{"property key with colon", withProps(NewConnectionConfig("localhost", 32010, cred), Header{Key: "a:b", Value: "x"}), "session_properties"},
		{"non-ascii property value", withProps(NewConnectionConfig("localhost", 32010, cred), Header{Key: "schema", Value: "données"}), "session_properties"},
		{"non-ascii engine", withEngine(NewConnectionConfig("localhost", 32010, cred), "moteur-é"), "engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("Expected ErrConfig, got %v", err)
			}
			var derr *Error
			if !errors.As(err, &derr) || derr.Field != tt.field {
				t.Errorf("Expected field %q, got %v", tt.field, err)
			}
		})
	}
}

func TestOptionsDefaults(t *testing.T) {
	var opts Options
	if opts.maxMessageSize() != DefaultMaxMessageSize {
		t.Errorf("Expected default message size, got %d", opts.maxMessageSize())
	}
	if opts.allocator() == nil {
		t.Error("Expected default allocator")
	}
	if opts.logger() == nil {
		t.Error("Expected discard logger")
	}
	if opts.readFile() == nil {
		t.Error("Expected os.ReadFile")
	}

	opts.MaxMessageSize = 1024
	if opts.maxMessageSize() != 1024 {
		t.Errorf("Expected 1024, got %d", opts.maxMessageSize())
	}
}
