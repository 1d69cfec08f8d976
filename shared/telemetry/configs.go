package telemetry

import "github.com/pkg/errors"

// Predefined participant configurations
var (
	// FlightServiceConfig is the telemetry configuration for the flight participant
	FlightServiceConfig = Config{
		ServiceName:    "flight-service",
		ServiceVersion: "1.0.0",
		Participant:    "flight",
	}

	// HotelServiceConfig is the telemetry configuration for the hotel participant
	HotelServiceConfig = Config{
		ServiceName:    "hotel-service",
		ServiceVersion: "1.0.0",
		Participant:    "hotel",
	}
)

// ConfigForParticipant returns the predefined configuration of a saga
// participant.
func ConfigForParticipant(participant string) (Config, error) {
	switch participant {
	case FlightServiceConfig.Participant:
		return FlightServiceConfig, nil
	case HotelServiceConfig.Participant:
		return HotelServiceConfig, nil
	}
	return Config{}, errors.Errorf("no telemetry config for participant %q", participant)
}

// WithOTLPEndpoint sets the OTLP endpoint for a config
func (c Config) WithOTLPEndpoint(endpoint string) Config {
	c.OTLPEndpoint = endpoint
	return c
}

// WithServiceName overrides the service name for a config
func (c Config) WithServiceName(name string) Config {
	if name != "" {
		c.ServiceName = name
	}
	return c
}
