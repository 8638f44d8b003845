package testutil

import "time"

// ServiceCall records a service call for testing/verification
type ServiceCall struct {
	Timestamp   time.Time
	Domain      string
	Service     string
	ServiceData map[string]interface{}
	Target      []string
}

// EntityIDs returns the entities a call addresses, from the target and from
// service_data entity_id (a string or a list).
func (c ServiceCall) EntityIDs() []string {
	ids := append([]string(nil), c.Target...)
	switch v := c.ServiceData["entity_id"].(type) {
	case string:
		ids = append(ids, v)
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
	case []string:
		ids = append(ids, v...)
	}
	return ids
}

// Addresses reports whether the call targets entityID
func (c ServiceCall) Addresses(entityID string) bool {
	for _, id := range c.EntityIDs() {
		if id == entityID {
			return true
		}
	}
	return false
}

// FilterServiceCalls filters service calls by domain and service
func FilterServiceCalls(calls []ServiceCall, domain, service string) []ServiceCall {
	var filtered []ServiceCall
	for _, call := range calls {
		if call.Domain == domain && call.Service == service {
			filtered = append(filtered, call)
		}
	}
	return filtered
}

// FindServiceCallWithData finds a service call with matching data key/value
func FindServiceCallWithData(calls []ServiceCall, domain, service, dataKey string, dataValue interface{}) *ServiceCall {
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Domain == domain && call.Service == service {
			if val, ok := call.ServiceData[dataKey]; ok && val == dataValue {
				return &call
			}
		}
	}
	return nil
}

// FindServiceCallWithEntityID finds the most recent call addressing entityID.
// An empty entityID matches any call to domain.service.
func FindServiceCallWithEntityID(calls []ServiceCall, domain, service, entityID string) *ServiceCall {
	for i := len(calls) - 1; i >= 0; i-- {
		call := calls[i]
		if call.Domain != domain || call.Service != service {
			continue
		}
		if entityID == "" || call.Addresses(entityID) {
			return &call
		}
	}
	return nil
}
