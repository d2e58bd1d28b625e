package domain

import "fmt"

// ServiceType is the class of server the locator is asked about.
type ServiceType int

const (
	ServiceRRD ServiceType = iota
	ServiceClient
	ServiceAlert
	ServiceHistory
	ServiceHostData
)

var serviceNames = []string{"rrd", "client", "alert", "history", "hostdata"}

// ParseServiceType resolves a locator service name.
func ParseServiceType(name string) (ServiceType, error) {
	for i, n := range serviceNames {
		if n == name {
			return ServiceType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown service %q: %w", name, ErrInvalidConfig)
}

// String returns the service name used on the wire.
func (s ServiceType) String() string {
	if int(s) >= 0 && int(s) < len(serviceNames) {
		return serviceNames[s]
	}
	return "unknown"
}
